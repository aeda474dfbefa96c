package directive

// Kind names one action in the closed vocabulary. The set is compiled into the
// program; text that names anything else is not an action marker.
type Kind string

const (
	Talk             Kind = "TALK_TO_USER"
	RunCommand       Kind = "RUN_SHELL_COMMAND"
	Think            Kind = "THINK"
	ReadFiles        Kind = "READ_FILES"
	WriteFile        Kind = "WRITE_FILE"
	EditFile         Kind = "EDIT_FILE"
	DeleteFile       Kind = "DELETE_FILE"
	AppendFile       Kind = "APPEND_FILE"
	ListDirectory    Kind = "LIST_DIRECTORY"
	SaveMemory       Kind = "SAVE_MEMORY"
	ReadMemory       Kind = "READ_MEMORY"
	SearchFiles      Kind = "SEARCH_FILES"
	SearchSelf       Kind = "SEARCH_SELF"
	CreateDirectory  Kind = "CREATE_DIRECTORY"
	TreeDirectory    Kind = "TREE_DIRECTORY"
	HTTPRequest      Kind = "HTTP_REQUEST"
	WebSearch        Kind = "WEB_SEARCH"
	TestSelf         Kind = "TEST_SELF"
	RunSelf          Kind = "RUN_SELF"
	Sleep            Kind = "SLEEP"
	SetMode          Kind = "SET_MODE"
	StartInteractive Kind = "START_INTERACTIVE"
	SendInput        Kind = "SEND_INPUT"
	EndInteractive   Kind = "END_INTERACTIVE"
	Restart          Kind = "RESTART_SELF"
	ReadLogs         Kind = "READ_LOGS"
	Dream            Kind = "DREAM"
)

// RationaleMarker opens the rationale section.
const RationaleMarker = "RATIONALE"

var vocabulary = []Kind{
	Talk, RunCommand, Think, ReadFiles, WriteFile, EditFile, DeleteFile, AppendFile,
	ListDirectory, SaveMemory, ReadMemory, SearchFiles, SearchSelf, CreateDirectory,
	TreeDirectory, HTTPRequest, WebSearch, TestSelf, RunSelf, Sleep, SetMode,
	StartInteractive, SendInput, EndInteractive, Restart, ReadLogs, Dream,
}

var byToken = func() map[string]Kind {
	m := make(map[string]Kind, len(vocabulary))
	for _, k := range vocabulary {
		m[string(k)] = k
	}
	return m
}()

// Lookup resolves a marker token to its Kind.
func Lookup(token string) (Kind, bool) {
	k, ok := byToken[token]
	return k, ok
}

// Kinds returns the vocabulary in declaration order.
func Kinds() []Kind {
	out := make([]Kind, len(vocabulary))
	copy(out, vocabulary)
	return out
}

// Valid reports whether k belongs to the vocabulary.
func (k Kind) Valid() bool {
	_, ok := byToken[string(k)]
	return ok
}

func (k Kind) String() string {
	return string(k)
}
