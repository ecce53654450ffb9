package model

// Phase is the session view state. A session walks forward through
// these phases; replacing the photo moves it back to PhaseUploaded.
type Phase string

const (
	PhaseSelecting  Phase = "selecting"  // picking guitars
	PhaseReady      Phase = "ready"      // selection confirmed, waiting for a photo
	PhaseUploaded   Phase = "uploaded"   // photo attached, batch may start
	PhaseGenerating Phase = "generating" // batch runner active
	PhaseResults    Phase = "results"    // every item terminal
)
