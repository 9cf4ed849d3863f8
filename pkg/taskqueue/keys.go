package taskqueue

import (
	"fmt"
	"strconv"
)

// Key shapes are part of the external storage contract and must stay
// bit-exact for cross-implementation interoperability:
//
//	AX:INC                            hash, field "{app}:{queue}" -> last id
//	AX:META:{app}:{queue}:{id}        hash of JSON-encoded task fields
//	AX:CNAME:{app}:{queue}:{cname}    string, decimal id
//	AX:UUID:{app}:{queue}             zset, member=uuid, score=id

const incrKey = "AX:INC"

// incrField returns the AX:INC hash field holding the queue's
// last-assigned id.
func (q *TaskQueue) incrField() string {
	return q.app + ":" + q.queue
}

func (q *TaskQueue) metaKey(id int64) string {
	return fmt.Sprintf("AX:META:%s:%s:%s", q.app, q.queue, strconv.FormatInt(id, 10))
}

func (q *TaskQueue) cnameKey(cname string) string {
	return fmt.Sprintf("AX:CNAME:%s:%s:%s", q.app, q.queue, cname)
}

func (q *TaskQueue) uuidKey() string {
	return fmt.Sprintf("AX:UUID:%s:%s", q.app, q.queue)
}
