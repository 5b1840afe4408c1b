package cluster

import "time"

// heartbeatWait bounds how long the coordinator waits for worker replies
// when enumerating the alive set.
const heartbeatWait = 300 * time.Millisecond

// heartbeat broadcasts a HeartBeat request to every worker queue (1..workerNum)
// then drains the response queue for heartbeatWait, returning the set of
// worker ids that replied. Non-responders are treated as offline.
func (c *Coordinator) heartbeat() (map[int]bool, error) {
	sent := make(map[TaskID]int, c.workerNum)
	for id := 1; id <= c.workerNum; id++ {
		taskID := NewTaskID()
		sent[taskID] = id
		req := Request{TaskID: taskID, Head: HeartBeatReq{}}
		if err := c.broker.RPush(RequestQueue(id), req.Encode()); err != nil {
			return nil, err
		}
	}

	alive := make(map[int]bool, c.workerNum)
	deadline := time.Now().Add(heartbeatWait)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			break
		}
		_, data, ok, err := c.broker.BLPop(remaining, ResponseQueue)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		resp, err := DecodeResponse(data)
		if err != nil {
			continue
		}
		if id, known := sent[resp.TaskID]; known {
			alive[id] = true
		}
	}
	return alive, nil
}
