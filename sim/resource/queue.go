package resource

import "sort"

// requestQueue orders waiting requests by priority and then by arrival.
type requestQueue []*Request

func (q requestQueue) Len() int {
	return len(q)
}

func (q requestQueue) Less(i, j int) bool {
	return before(q[i], q[j])
}

func (q requestQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *requestQueue) Push(x interface{}) {
	req := x.(*Request)
	req.index = len(*q)
	*q = append(*q, req)
}

func (q *requestQueue) Pop() interface{} {
	old := *q
	n := len(old)
	req := old[n-1]
	old[n-1] = nil
	req.index = -1
	*q = old[0 : n-1]

	return req
}

func before(a, b *Request) bool {
	if a.priority != b.priority {
		return a.priority < b.priority
	}

	return a.seq < b.seq
}

func sortRequests(list []*Request) {
	sort.Slice(list, func(i, j int) bool { return before(list[i], list[j]) })
}
