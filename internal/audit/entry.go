package audit

// Entry kinds.
const (
	KindAction     = "action"
	KindCapability = "capability"
	KindPackage    = "package"
	KindTrigger    = "trigger"
	KindRegistry   = "registry"
	KindConfidence = "confidence"
	KindReview     = "review"
)

// AuditEntry is one line in the hash-chained JSONL audit log.
// All fields are scalars (no map[string]any) to guarantee deterministic
// json.Marshal field order for reproducible hashing.
type AuditEntry struct {
	Timestamp  string `json:"ts"`
	Kind       string `json:"kind"`
	AgentID    string `json:"agent_id,omitempty"`
	Subject    string `json:"subject"`
	Decision   string `json:"decision"`
	Reason     string `json:"reason"`
	Tier       string `json:"tier,omitempty"`
	Actor      string `json:"actor,omitempty"`
	RecordID   string `json:"record_id,omitempty"`
	PolicyHash string `json:"policy_hash,omitempty"`
	PrevHash   string `json:"prev_hash"`
}

// Recorder accepts audit entries. *Log implements it.
type Recorder interface {
	Record(entry AuditEntry) error
}

// Discard is a Recorder that drops every entry.
var Discard Recorder = discard{}

type discard struct{}

func (discard) Record(AuditEntry) error { return nil }
