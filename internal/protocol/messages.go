package protocol

// Op names.
const (
	OpRegionCreate  = "REGION_CREATE"
	OpRegionDestroy = "REGION_DESTROY"
	OpPlace         = "PLACE"
	OpHold          = "HOLD"
	OpRemove        = "REMOVE"
	OpGet           = "GET"
	OpGetCell       = "GET_CELL"
	OpAdd           = "ADD"
	OpSubtract      = "SUBTRACT"
	OpSet           = "SET"
	OpSetCell       = "SET_CELL"
	OpAddCell       = "ADD_CELL"
	OpEqualize      = "EQUALIZE"
	OpTransfer      = "TRANSFER"
	OpSuppress      = "SUPPRESS"
	OpAbsorb        = "ABSORB"
	OpSplit         = "SPLIT"
	OpInherit       = "INHERIT"
	OpEnterCell     = "ENTER_CELL"
	OpTick          = "TICK"
	OpSave          = "SAVE"
)

// Split policies for TRANSFER.
const (
	SplitEqual   = "EQUAL"
	SplitStack   = "STACK"
	SplitWeights = "WEIGHTS"
)

// HELLO (client -> server)
type HelloMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Client          string `json:"client,omitempty"`
}

// WELCOME (server -> client)
type WelcomeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	SessionID       string `json:"session_id"`
	Tick            uint64 `json:"tick"`
	TickRateHz      int    `json:"tick_rate_hz"`
	TuningDigest    string `json:"tuning_digest,omitempty"`
}

// TargetRef names a contamination target: exactly one of Object, Underfoot or
// Region+Cell is set.
type TargetRef struct {
	Object    string  `json:"object,omitempty"`
	Underfoot string  `json:"underfoot,omitempty"`
	Region    string  `json:"region,omitempty"`
	Cell      *[2]int `json:"cell,omitempty"`
}

// Override pins an object's region for the duration of one op.
type Override struct {
	Object string `json:"object"`
	Region string `json:"region"`
}

// OP (client -> server). Which fields apply depends on Op.
type OpMsg struct {
	Type string `json:"type"`
	ID   string `json:"id,omitempty"`
	Op   string `json:"op"`

	Target  *TargetRef  `json:"target,omitempty"`
	Other   *TargetRef  `json:"other,omitempty"`
	Targets []TargetRef `json:"targets,omitempty"`
	// Sources replaces Target for TRANSFER from several sources at once.
	Sources []TargetRef `json:"sources,omitempty"`

	// Placement and stacks.
	Object    string  `json:"object,omitempty"`
	Holder    string  `json:"holder,omitempty"`
	Src       string  `json:"src,omitempty"`
	Region    string  `json:"region,omitempty"`
	Cell      *[2]int `json:"cell,omitempty"`
	Width     int     `json:"width,omitempty"`
	Height    int     `json:"height,omitempty"`
	Stack     int     `json:"stack,omitempty"`
	DstCount  int     `json:"dst_count,omitempty"`
	Absorbed  int     `json:"absorbed,omitempty"`
	SrcBefore int     `json:"src_before,omitempty"`
	Skill     *int    `json:"skill,omitempty"`

	Amount    *float64  `json:"amount,omitempty"`
	Factor    *float64  `json:"factor,omitempty"`
	FactorKey string    `json:"factor_key,omitempty"`
	Min       *float64  `json:"min,omitempty"`
	Max       *float64  `json:"max,omitempty"`
	Split     string    `json:"split,omitempty"`
	Weights   []float64 `json:"weights,omitempty"`

	IncludeHoldings      bool `json:"include_holdings,omitempty"`
	OtherIncludeHoldings bool `json:"other_include_holdings,omitempty"`

	Overrides []Override `json:"overrides,omitempty"`
}

// RESULT (server -> client). Value is the primary target's level after the op,
// Applied the delta applied to it, Moved the amount that changed hands.
type ResultMsg struct {
	Type            string  `json:"type"`
	ProtocolVersion string  `json:"protocol_version"`
	ID              string  `json:"id,omitempty"`
	OK              bool    `json:"ok"`
	Tick            uint64  `json:"tick"`
	Value           float64 `json:"value"`
	Applied         float64 `json:"applied"`
	Moved           float64 `json:"moved"`
	Path            string  `json:"path,omitempty"`
	Code            string  `json:"code,omitempty"`
	Message         string  `json:"message,omitempty"`
}

func Fail(id, code, message string) ResultMsg {
	return ResultMsg{
		Type:            TypeResult,
		ProtocolVersion: Version,
		ID:              id,
		Code:            code,
		Message:         message,
	}
}
