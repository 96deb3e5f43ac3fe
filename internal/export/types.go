package export

// Clip is one event of an edit decision list. Times are seconds in the
// source media.
type Clip struct {
	Name   string
	Source string
	Start  float64
	End    float64
}

func (c Clip) startMs() int { return secondsToMs(c.Start) }
func (c Clip) endMs() int   { return secondsToMs(c.End) }
