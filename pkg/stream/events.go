package stream

// DocumentCreated is the payload of document_created.
type DocumentCreated struct {
	DocumentID string `json:"documentId"`
}

// Status is the payload of status.
type Status struct {
	Stage   string `json:"stage"`
	Message string `json:"message"`
}

// PipelineProgress is the payload of pipeline_progress, used for the
// lecture outline sub-steps.
type PipelineProgress struct {
	Step    string `json:"step"`
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Count   int    `json:"count,omitempty"`
}

// Progress is the payload of progress.
type Progress struct {
	Current int `json:"current"`
	Total   int `json:"total"`
}

// Item is the payload of item.
type Item struct {
	Index int         `json:"index"`
	Type  string      `json:"type"`
	Data  interface{} `json:"data"`
}

// BatchSaved is the payload of batch_saved.
type BatchSaved struct {
	ChunkIDs   []string `json:"chunkIds"`
	BatchIndex int      `json:"batchIndex"`
}

// Error is the payload of error.
type Error struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}
