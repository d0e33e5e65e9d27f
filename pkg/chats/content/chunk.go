package content

// Chunk is a fragment of output content delivered while streaming. Fragments
// sharing a kind and ID belong to the same logical block and must be
// concatenated before they are interpreted.
type Chunk interface {
	Kind() Kind
	ChunkID() string
	isChunk()
}

// TextChunk is a fragment of a text block.
type TextChunk struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

func (TextChunk) Kind() Kind        { return KindText }
func (c TextChunk) ChunkID() string { return c.ID }
func (TextChunk) isChunk()          {}

// ToolCallChunk is a fragment of a tool call. RawName may be split across
// several chunks or only present on the first one.
type ToolCallChunk struct {
	ID           string `json:"id"`
	RawName      string `json:"raw_name,omitempty"`
	RawArguments string `json:"raw_arguments"`
}

func (ToolCallChunk) Kind() Kind        { return KindToolCall }
func (c ToolCallChunk) ChunkID() string { return c.ID }
func (ToolCallChunk) isChunk()          {}

// ThoughtChunk is a fragment of a reasoning trace.
type ThoughtChunk struct {
	ID           string `json:"id"`
	Text         string `json:"text,omitempty"`
	Signature    string `json:"signature,omitempty"`
	ProviderType string `json:"provider_type,omitempty"`
}

func (ThoughtChunk) Kind() Kind        { return KindThought }
func (c ThoughtChunk) ChunkID() string { return c.ID }
func (ThoughtChunk) isChunk()          {}
