package api

import (
	"fmt"
	"net/url"
	"strconv"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// listParams are the validated pagination query parameters.
type listParams struct {
	offset int64
	limit  int64
}

func parseListParams(q url.Values) (listParams, *apiError) {
	p := listParams{limit: defaultListLimit}

	if v := q.Get("offset"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			return listParams{}, validationError(fmt.Sprintf("offset %q must be a non-negative integer", v))
		}
		p.offset = n
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 || n > maxListLimit {
			return listParams{}, validationError(fmt.Sprintf("limit %q must be an integer in [0, %d]", v, maxListLimit))
		}
		p.limit = n
	}
	return p, nil
}
