package queue

const (
	TypeStagingPurge = "staging:purge"
)

// StagingPurgePayload names a staged audio object to delete.
type StagingPurgePayload struct {
	Key string `json:"key"`
}
