package series

// Point is a single (time, value) sample.
type Point struct {
	Time  Tick    `json:"x"`
	Value float64 `json:"y"`
}

// Retention bounds how many points a Buffer keeps.
// MaxPoints caps the number of points and MaxAge drops points older than
// MaxAge ticks behind the newest one. Zero disables either bound.
type Retention struct {
	MaxPoints int     `yaml:"max_points" json:"max_points"`
	MaxAge    float64 `yaml:"max_age" json:"max_age"`
}

// Unbounded reports whether the retention keeps every point.
func (r Retention) Unbounded() bool {
	return r.MaxPoints <= 0 && r.MaxAge <= 0
}

// Buffer is an ordered, append-only sequence of points for one series.
// Points arrive in tick order; eviction only ever removes the oldest end.
type Buffer struct {
	retention Retention
	points    []Point
}

// NewBuffer creates an empty buffer.
func NewBuffer(retention Retention) *Buffer {
	return &Buffer{retention: retention}
}

// Append adds a point and evicts whatever the retention no longer allows.
func (b *Buffer) Append(t Tick, value float64) {
	b.points = append(b.points, Point{Time: t, Value: value})

	if b.retention.MaxAge > 0 {
		cutoff := float64(t) - b.retention.MaxAge
		drop := 0
		for drop < len(b.points) && float64(b.points[drop].Time) < cutoff {
			drop++
		}
		b.points = b.points[drop:]
	}

	if b.retention.MaxPoints > 0 && len(b.points) > b.retention.MaxPoints {
		b.points = b.points[len(b.points)-b.retention.MaxPoints:]
	}
}

// Len returns the number of retained points.
func (b *Buffer) Len() int {
	return len(b.points)
}

// Points returns a copy of the retained points, oldest first.
func (b *Buffer) Points() []Point {
	out := make([]Point, len(b.points))
	copy(out, b.points)
	return out
}

// Last returns the newest point.
func (b *Buffer) Last() (Point, bool) {
	if len(b.points) == 0 {
		return Point{}, false
	}
	return b.points[len(b.points)-1], true
}
