package models

// StepSample はプロバイダーから届く1件の歩数データです。
// Timestamp はUTCのUNIX秒です。
type StepSample struct {
	Timestamp int64 `json:"timestamp"`
	Step      int64 `json:"step"`
}

// StepUploadRequest はPOST /api/steps のリクエストボディです。
type StepUploadRequest struct {
	Samples []StepSample `json:"samples"`
}

// ProviderUploadRequest はPOST /api/steps/provider のリクエストボディです。
type ProviderUploadRequest struct {
	Token string `json:"token"`
}

// IngestResult summarizes a merge.
type IngestResult struct {
	Retained          int              `json:"retained"`
	RecomputedEntries map[string]int64 `json:"recomputedEntries"` // contestID -> steps
}
