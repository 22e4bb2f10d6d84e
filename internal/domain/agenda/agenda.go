// Package agenda models the shared list of agenda points and its textual forms.
package agenda

import (
	"fmt"
	"strings"
)

// EmptyText is shown instead of an empty string when the agenda has no points.
const EmptyText = "Empty agenda"

// Point is one agenda entry. Points are immutable once created.
type Point struct {
	Title string
	Adder string
}

// String renders the point as "title (adder)".
func (p Point) String() string {
	return fmt.Sprintf("%s (%s)", p.Title, p.Adder)
}

// AddedMessage announces the point to the other channels.
func (p Point) AddedMessage() string {
	return fmt.Sprintf("'%s' added by %s", p.Title, p.Adder)
}

// Agenda is the ordered list of points; order is insertion order.
// The zero value is the empty agenda.
type Agenda struct {
	Points []Point
}

// With returns a copy of a with p appended. a itself is not modified.
func (a Agenda) With(p Point) Agenda {
	points := make([]Point, 0, len(a.Points)+1)
	points = append(points, a.Points...)
	points = append(points, p)
	return Agenda{Points: points}
}

// Len reports the number of points.
func (a Agenda) Len() int {
	return len(a.Points)
}

// Render joins the points one per line, or returns EmptyText.
func (a Agenda) Render() string {
	if len(a.Points) == 0 {
		return EmptyText
	}
	lines := make([]string, len(a.Points))
	for i, p := range a.Points {
		lines[i] = p.String()
	}
	return strings.Join(lines, "\n")
}

// ClearedMessage is broadcast after the agenda has been reset.
func ClearedMessage(sender string) string {
	return fmt.Sprintf("Agenda cleared by %s", sender)
}
