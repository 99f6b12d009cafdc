package models

// FrameSummary is the list view of one indexed frame.
type FrameSummary struct {
	Number    int    `json:"number"`
	Timestamp string `json:"timestamp"`
	SrcAddr   string `json:"srcAddr"`
	DstAddr   string `json:"dstAddr"`
	Protocol  string `json:"protocol"`
	Length    int    `json:"length"`
	Info      string `json:"info"`
	Fields    int    `json:"fields"`
	FlowID    uint64 `json:"flowId,omitempty"`
}

// FieldInfo describes one field returned by a field query.
type FieldInfo struct {
	Ordinal      int    `json:"ordinal"`
	Name         string `json:"name"`
	DisplayName  string `json:"displayName,omitempty"`
	DisplayValue string `json:"displayValue,omitempty"`
	Protocol     bool   `json:"protocol,omitempty"`
	Parent       int    `json:"parent"`
	Offset       int    `json:"offset"`
	Length       int    `json:"length"`
	Source       int    `json:"source"`
}

// FrameDocument carries the YAML document of one frame.
type FrameDocument struct {
	Number   int    `json:"number"`
	Document string `json:"document"`
}
