package notify

// Notifier posts human-facing updates about job executions. Delivery is best
// effort: a notification that cannot be sent is logged and dropped, it never
// fails the job that produced it.
type Notifier interface {
	Notify(msg *Message)
	NotifyException(jobID string, err error)
}

type Field struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

type Attachment struct {
	Color    string  `json:"color,omitempty"`
	Fallback string  `json:"fallback"`
	Text     string  `json:"text"`
	Fields   []Field `json:"fields,omitempty"`
}

type Message struct {
	lines  []string
	color  string
	fields []Field
}

func NewMessage(text string) *Message {
	return &Message{lines: []string{text}}
}

func (m *Message) AddText(line string) *Message {
	m.lines = append(m.lines, line)
	return m
}

func (m *Message) SetColor(color string) *Message {
	m.color = color
	return m
}

func (m *Message) AddField(title, value string) *Message {
	m.fields = append(m.fields, Field{Title: title, Value: value, Short: true})
	return m
}

type NullNotifier struct{}

func (NullNotifier) Notify(_ *Message) {}

func (NullNotifier) NotifyException(_ string, _ error) {}
