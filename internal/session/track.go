package session

// Track is an incoming media track reported by the engine. The core only
// needs enough of it to log and to hand it back to the engine for echoing.
type Track interface {
	ID() string
	Kind() string
	Codec() string
}
