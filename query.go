// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package bufq

import (
	"fmt"
	"strconv"
)

// QueryWhat selects the value returned by Query.
type QueryWhat int32

// Query selectors. QueryQueuesToWindowComposer through QueryTransformHint
// are answered by the window layer in front of the queue, never by the
// queue itself, and fail with ErrBadValue here.
const (
	QueryWidth                  QueryWhat = 0
	QueryHeight                 QueryWhat = 1
	QueryFormat                 QueryWhat = 2
	QueryMinUndequeuedBuffers   QueryWhat = 3
	QueryQueuesToWindowComposer QueryWhat = 4
	QueryConcreteType           QueryWhat = 5
	QueryDefaultWidth           QueryWhat = 6
	QueryDefaultHeight          QueryWhat = 7
	QueryTransformHint          QueryWhat = 8
	QueryConsumerRunningBehind  QueryWhat = 9
	QueryConsumerUsageBits      QueryWhat = 10
	QueryStickyTransform        QueryWhat = 11
	QueryDefaultDataspace       QueryWhat = 12
	QueryBufferAge              QueryWhat = 13
	QueryMaxBufferCount         QueryWhat = 21
)

var queryNames = map[QueryWhat]string{
	QueryWidth:                  "WIDTH",
	QueryHeight:                 "HEIGHT",
	QueryFormat:                 "FORMAT",
	QueryMinUndequeuedBuffers:   "MIN_UNDEQUEUED_BUFFERS",
	QueryQueuesToWindowComposer: "QUEUES_TO_WINDOW_COMPOSER",
	QueryConcreteType:           "CONCRETE_TYPE",
	QueryDefaultWidth:           "DEFAULT_WIDTH",
	QueryDefaultHeight:          "DEFAULT_HEIGHT",
	QueryTransformHint:          "TRANSFORM_HINT",
	QueryConsumerRunningBehind:  "CONSUMER_RUNNING_BEHIND",
	QueryConsumerUsageBits:      "CONSUMER_USAGE_BITS",
	QueryStickyTransform:        "STICKY_TRANSFORM",
	QueryDefaultDataspace:       "DEFAULT_DATASPACE",
	QueryBufferAge:              "BUFFER_AGE",
	QueryMaxBufferCount:         "MAX_BUFFER_COUNT",
}

func (w QueryWhat) String() string {
	if s, ok := queryNames[w]; ok {
		return s
	}
	return "QueryWhat(" + strconv.Itoa(int(w)) + ")"
}

// Query reads one piece of queue state.
func (q *BufferQueue) Query(what QueryWhat) (int32, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.producerReadyLocked(); err != nil {
		return 0, err
	}
	switch what {
	case QueryWidth:
		return int32(q.defaultWidth), nil
	case QueryHeight:
		return int32(q.defaultHeight), nil
	case QueryFormat:
		return int32(q.defaultFormat), nil
	case QueryMinUndequeuedBuffers:
		return int32(q.minUndequeuedLocked()), nil
	case QueryConsumerRunningBehind:
		if q.pending.len() >= 2 {
			return 1, nil
		}
		return 0, nil
	case QueryConsumerUsageBits:
		return int32(q.consumerUsage), nil
	case QueryStickyTransform:
		return int32(q.stickyTransform), nil
	case QueryDefaultDataspace:
		return int32(q.defaultDataspace), nil
	case QueryBufferAge:
		return int32(min(q.lastDequeuedAge, 1<<31-1)), nil
	case QueryMaxBufferCount:
		return MaxSlots, nil
	}
	q.log.WithField("what", what).Debug("query: unsupported selector")
	return 0, fmt.Errorf("%w: unsupported query %s", ErrBadValue, what)
}
