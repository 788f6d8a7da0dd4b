package chunks

import (
	"fmt"
	"math"
	"sort"

	"voxelstream.ai/internal/sim/mathx"
)

// Coord identifies a chunk on the 3D chunk grid.
type Coord struct {
	X int32 `json:"x"`
	Y int32 `json:"y"`
	Z int32 `json:"z"`
}

func (c Coord) String() string {
	return fmt.Sprintf("(%d,%d,%d)", c.X, c.Y, c.Z)
}

// Less orders coordinates by X, then Y, then Z.
func (c Coord) Less(o Coord) bool {
	if c.X != o.X {
		return c.X < o.X
	}
	if c.Y != o.Y {
		return c.Y < o.Y
	}
	return c.Z < o.Z
}

func (c Coord) Add(dx, dy, dz int32) Coord {
	return Coord{X: c.X + dx, Y: c.Y + dy, Z: c.Z + dz}
}

// Distance is the Euclidean distance between two chunk coordinates, in chunk units.
func Distance(a, b Coord) float64 {
	dx := float64(a.X - b.X)
	dy := float64(a.Y - b.Y)
	dz := float64(a.Z - b.Z)
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}

// Vec3 is an observer position in world (block) units.
type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// FromWorld returns the chunk containing a world position.
func FromWorld(p Vec3, chunkSize int) Coord {
	if chunkSize <= 0 {
		chunkSize = DefaultSize
	}
	return Coord{
		X: int32(mathx.FloorDiv(mathx.FloorToInt(p.X), chunkSize)),
		Y: int32(mathx.FloorDiv(mathx.FloorToInt(p.Y), chunkSize)),
		Z: int32(mathx.FloorDiv(mathx.FloorToInt(p.Z), chunkSize)),
	}
}

// FromBlock returns the chunk containing a block and the block's local offset in it.
func FromBlock(x, y, z, chunkSize int) (Coord, [3]int) {
	c := Coord{
		X: int32(mathx.FloorDiv(x, chunkSize)),
		Y: int32(mathx.FloorDiv(y, chunkSize)),
		Z: int32(mathx.FloorDiv(z, chunkSize)),
	}
	return c, [3]int{mathx.Mod(x, chunkSize), mathx.Mod(y, chunkSize), mathx.Mod(z, chunkSize)}
}

const DefaultSize = 32

type Candidate struct {
	Coord    Coord
	Distance float64
}

// SortNearest orders candidates nearest first, breaking distance ties by coordinate.
func SortNearest(items []Candidate) {
	sort.Slice(items, func(i, j int) bool {
		if items[i].Distance != items[j].Distance {
			return items[i].Distance < items[j].Distance
		}
		return items[i].Coord.Less(items[j].Coord)
	})
}

// SortFarthest orders candidates farthest first, breaking distance ties by coordinate.
func SortFarthest(items []Candidate) {
	sort.Slice(items, func(i, j int) bool {
		if items[i].Distance != items[j].Distance {
			return items[i].Distance > items[j].Distance
		}
		return items[i].Coord.Less(items[j].Coord)
	})
}

// ToChunkSpace converts a world position to chunk units.
func ToChunkSpace(p Vec3, chunkSize int) Vec3 {
	if chunkSize <= 0 {
		chunkSize = DefaultSize
	}
	n := float64(chunkSize)
	return Vec3{X: p.X / n, Y: p.Y / n, Z: p.Z / n}
}

// CenterDistance is the distance, in chunk units, from p (chunk space) to the center of c.
func CenterDistance(p Vec3, c Coord) float64 {
	dx := float64(c.X) + 0.5 - p.X
	dy := float64(c.Y) + 0.5 - p.Y
	dz := float64(c.Z) + 0.5 - p.Z
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}

// Within returns every chunk whose center lies within radius of p (chunk
// space, inclusive), nearest first.
func Within(p Vec3, radius float64) []Candidate {
	if radius < 0 {
		return nil
	}
	home := Coord{
		X: int32(math.Floor(p.X)),
		Y: int32(math.Floor(p.Y)),
		Z: int32(math.Floor(p.Z)),
	}
	r := int32(math.Ceil(radius)) + 1
	out := make([]Candidate, 0, 8*int(r)*int(r)*int(r))
	for dx := -r; dx <= r; dx++ {
		for dy := -r; dy <= r; dy++ {
			for dz := -r; dz <= r; dz++ {
				c := home.Add(dx, dy, dz)
				d := CenterDistance(p, c)
				if d > radius {
					continue
				}
				out = append(out, Candidate{Coord: c, Distance: d})
			}
		}
	}
	SortNearest(out)
	return out
}
