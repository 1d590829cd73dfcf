package tagging

// Message is one chat line of a batch. Only Body takes part in matching; ID is opaque
// and is carried through to results for correlation.
type Message struct {
	ID   string `json:"id"`
	Body string `json:"body"`
}
