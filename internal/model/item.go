package model

import "time"

// MaxBatchSize is the number of guitars a batch must contain before
// generation may start.
const MaxBatchSize = 6

// ItemStatus is the lifecycle status of a single portrait item.
type ItemStatus string

const (
	StatusPending ItemStatus = "pending"
	StatusDone    ItemStatus = "done"
	StatusError   ItemStatus = "error"
)

// Terminal reports whether no further transition happens without an
// explicit regenerate.
func (s ItemStatus) Terminal() bool {
	return s == StatusDone || s == StatusError
}

// Item is one guitar portrait request/result pair within a batch.
// ResultPath is set only when the status is done; ErrMessage only when
// the status is error.
type Item struct {
	Key        string     `json:"key"` // guitar model name, unique within the batch
	Status     ItemStatus `json:"status"`
	ResultPath string     `json:"result_path,omitempty"`
	ErrMessage string     `json:"error,omitempty"`
	UpdatedAt  time.Time  `json:"updated_at"`
}
