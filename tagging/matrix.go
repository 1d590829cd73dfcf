package tagging

// Pair is one (message, label) cell that was tagged true.
type Pair struct {
	MessageIndex int    `json:"message_index"`
	MessageID    string `json:"message_id"`
	Label        string `json:"label"`
}

// TagMatrix maps (message id, label) to a boolean tag. It is filled by Tag and is
// read-only afterwards, so it can be shared between goroutines without locking.
type TagMatrix struct {
	messageIDs []string
	labels     []string
	rows       map[string]int
	cols       map[string]int
	cells      [][]bool // [label][message]
}

func newTagMatrix(messages []Message, labels []string) *TagMatrix {
	m := &TagMatrix{
		messageIDs: make([]string, len(messages)),
		labels:     append([]string(nil), labels...),
		rows:       make(map[string]int, len(messages)),
		cols:       make(map[string]int, len(labels)),
		cells:      make([][]bool, len(labels)),
	}
	for i, msg := range messages {
		m.messageIDs[i] = msg.ID
		if _, dup := m.rows[msg.ID]; !dup {
			m.rows[msg.ID] = i
		}
	}
	for j, l := range labels {
		m.cols[l] = j
		m.cells[j] = make([]bool, len(messages))
	}
	return m
}

// Get returns the tag for a message and label. Unknown ids or labels read as false.
func (m *TagMatrix) Get(messageID, label string) bool {
	i, ok := m.rows[messageID]
	if !ok {
		return false
	}
	j, ok := m.cols[label]
	if !ok {
		return false
	}
	return m.cells[j][i]
}

func (m *TagMatrix) at(label string, msg int) bool {
	j, ok := m.cols[label]
	if !ok {
		return false
	}
	return m.cells[j][msg]
}

// Labels returns the matrix columns in rule-set order.
func (m *TagMatrix) Labels() []string { return append([]string(nil), m.labels...) }

// MessageIDs returns the matrix rows in batch order.
func (m *TagMatrix) MessageIDs() []string { return append([]string(nil), m.messageIDs...) }

// Count returns how many messages are tagged with label.
func (m *TagMatrix) Count(label string) int {
	j, ok := m.cols[label]
	if !ok {
		return 0
	}
	n := 0
	for _, v := range m.cells[j] {
		if v {
			n++
		}
	}
	return n
}

// Pairs lists every tagged cell, label-major, messages in batch order.
func (m *TagMatrix) Pairs() []Pair {
	var out []Pair
	for j, l := range m.labels {
		for i, v := range m.cells[j] {
			if v {
				out = append(out, Pair{MessageIndex: i, MessageID: m.messageIDs[i], Label: l})
			}
		}
	}
	return out
}

// Equal reports whether both matrices have the same shape and cells.
func (m *TagMatrix) Equal(o *TagMatrix) bool {
	if m == nil || o == nil {
		return m == o
	}
	if len(m.labels) != len(o.labels) || len(m.messageIDs) != len(o.messageIDs) {
		return false
	}
	for i := range m.messageIDs {
		if m.messageIDs[i] != o.messageIDs[i] {
			return false
		}
	}
	for j := range m.labels {
		if m.labels[j] != o.labels[j] {
			return false
		}
		for i := range m.cells[j] {
			if m.cells[j][i] != o.cells[j][i] {
				return false
			}
		}
	}
	return true
}
