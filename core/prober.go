package core

// Confidence grades how strongly a driver's Prober believes a ChunkSource
// holds an instance of its filesystem.
type Confidence int

const (
	No Confidence = iota
	Barely
	Maybe
	Good
	Yes
)

func (c Confidence) String() string {
	switch c {
	case Yes:
		return "Yes"
	case Good:
		return "Good"
	case Maybe:
		return "Maybe"
	case Barely:
		return "Barely"
	default:
		return "No"
	}
}

// Prober is the heuristic filesystem-identification contract every driver
// implements. Autodetection runs every registered driver's Prober over an
// unknown image and picks the highest-confidence match (§4.7).
type Prober interface {
	// Name identifies the filesystem this prober tests for (e.g. "ProDOS").
	Name() string

	// TestImage probes source and grades how likely it is to hold this
	// filesystem. Implementations must not mutate source and should bound
	// their own work (a few block reads), since autodetection runs every
	// driver's prober in turn.
	TestImage(source ChunkSource) (Confidence, error)
}

// DetectResult pairs a driver name with the confidence its Prober reported.
type DetectResult struct {
	Driver     string
	Confidence Confidence
}

// Detect runs every prober in probers over source and returns results sorted
// by descending confidence (stable on ties, preserving probers' order).
func Detect(source ChunkSource, probers []Prober) ([]DetectResult, error) {
	results := make([]DetectResult, 0, len(probers))
	for _, p := range probers {
		conf, err := p.TestImage(source)
		if err != nil {
			results = append(results, DetectResult{Driver: p.Name(), Confidence: No})
			continue
		}
		results = append(results, DetectResult{Driver: p.Name(), Confidence: conf})
	}
	for i := 1; i < len(results); i++ {
		for j := i; j > 0 && results[j].Confidence > results[j-1].Confidence; j-- {
			results[j], results[j-1] = results[j-1], results[j]
		}
	}
	return results, nil
}
