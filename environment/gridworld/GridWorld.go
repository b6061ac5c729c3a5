// Package gridworld implements a square 2D gridworld environment with
// randomly placed obstacles
package gridworld

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/samuelfneumann/goreinforce/environment"
	"github.com/samuelfneumann/goreinforce/timestep"
)

// Actions available in the GridWorld, in index order
var Actions = []string{"up", "down", "left", "right"}

const (
	up int = iota
	down
	left
	right
)

const (
	// BumpReward is the reward for moving into a wall or an obstacle
	BumpReward float64 = -1.0

	// GoalReward is the reward for reaching the goal
	GoalReward float64 = 1.0
)

// Position is a (row, column) position in the GridWorld
type Position struct {
	Row, Col int
}

// GridWorld represents a size x size gridworld. The agent starts each
// episode at a fixed start position and the episode ends when the
// agent reaches the goal position. Obstacles are re-sampled from the
// interior of the grid each time the environment is reset, such that
// the goal always remains reachable.
//
// Moving into a wall or an obstacle leaves the agent in place and
// yields BumpReward. Reaching the goal yields GoalReward. Every reward
// other than GoalReward is shaped by the negative Manhattan distance
// to the goal. Observations are the (row, col) position of the agent.
type GridWorld struct {
	size      int
	start     Position
	goal      Position
	obstacles map[Position]bool
	position  Position

	numObstacles int
	starter      environment.CategoricalStarter

	number int
}

// New creates a new gridworld with size rows and size columns and
// numObstacles obstacles sampled with the given seed.
func New(size int, start, goal Position, numObstacles int,
	seed uint64) (*GridWorld, error) {
	if size < 2 {
		return nil, fmt.Errorf("new: size must be at least 2, have(%v)", size)
	}
	if !inBounds(start, size) {
		return nil, fmt.Errorf("new: start %v out of bounds", start)
	}
	if !inBounds(goal, size) {
		return nil, fmt.Errorf("new: goal %v out of bounds", goal)
	}
	if numObstacles > 0 && size < 3 {
		return nil, fmt.Errorf("new: obstacles require size >= 3")
	}

	// Obstacles are placed in the interior of the grid
	var starter environment.CategoricalStarter
	if numObstacles > 0 {
		interior := size - 2
		starter = environment.NewCategoricalStarter(
			[]int{interior, interior},
			[]int{1, 1},
			seed,
		)
	}

	g := &GridWorld{
		size:         size,
		start:        start,
		goal:         goal,
		numObstacles: numObstacles,
		starter:      starter,
	}
	g.placeObstacles()
	g.position = start

	return g, nil
}

// Reset resets the agent to the start position and re-samples the
// obstacles
func (g *GridWorld) Reset() (timestep.TimeStep, error) {
	g.placeObstacles()
	g.position = g.start
	g.number = 0

	return timestep.New(timestep.First, 0, g.observation(), 0), nil
}

// Step takes one step in the environment
func (g *GridWorld) Step(action int) (timestep.TimeStep, error) {
	next := g.position

	switch action {
	case up:
		if next.Row > 0 {
			next.Row--
		}
	case down:
		if next.Row < g.size-1 {
			next.Row++
		}
	case left:
		if next.Col > 0 {
			next.Col--
		}
	case right:
		if next.Col < g.size-1 {
			next.Col++
		}
	default:
		return timestep.TimeStep{}, fmt.Errorf("step: invalid action %v",
			action)
	}

	reward := 0.0
	stepType := timestep.Mid
	switch {
	case g.obstacles[next]:
		next = g.position
		reward = BumpReward
	case next == g.position:
		reward = BumpReward
	case next == g.goal:
		reward = GoalReward
		stepType = timestep.Last
	}

	// Shaping towards the goal
	if reward < GoalReward {
		reward -= float64(abs(g.goal.Row-next.Row) + abs(g.goal.Col-next.Col))
	}

	g.position = next
	g.number++

	return timestep.New(stepType, reward, g.observation(), g.number), nil
}

// StateSize returns the length of observation vectors
func (g *GridWorld) StateSize() int {
	return 2
}

// Actions returns the names of the available actions
func (g *GridWorld) Actions() []string {
	return Actions
}

// Position returns the current position of the agent
func (g *GridWorld) Position() Position {
	return g.position
}

// Obstacles returns the current obstacle positions
func (g *GridWorld) Obstacles() []Position {
	obstacles := make([]Position, 0, len(g.obstacles))
	for o := range g.obstacles {
		obstacles = append(obstacles, o)
	}
	return obstacles
}

// String renders the GridWorld
func (g *GridWorld) String() string {
	var out []byte
	for i := 0; i < g.size; i++ {
		for j := 0; j < g.size; j++ {
			p := Position{i, j}
			switch {
			case p == g.position:
				out = append(out, "A "...)
			case p == g.goal:
				out = append(out, "G "...)
			case p == g.start:
				out = append(out, "S "...)
			case g.obstacles[p]:
				out = append(out, "X "...)
			default:
				out = append(out, "_ "...)
			}
		}
		out = append(out, '\n')
	}
	return string(out)
}

// maxPlacements bounds the number of obstacle layouts sampled on each
// reset before falling back to a grid without obstacles
const maxPlacements = 100

// placeObstacles samples new obstacles. Obstacles sampled on the
// start or goal position are dropped, and layouts in which the goal
// cannot be reached from the start are re-sampled.
func (g *GridWorld) placeObstacles() {
	for attempt := 0; attempt < maxPlacements; attempt++ {
		g.obstacles = make(map[Position]bool, g.numObstacles)
		for i := 0; i < g.numObstacles; i++ {
			s := g.starter.Start()
			p := Position{int(s.AtVec(0)), int(s.AtVec(1))}
			if p != g.start && p != g.goal {
				g.obstacles[p] = true
			}
		}
		if g.reachable() {
			return
		}
	}
	g.obstacles = map[Position]bool{}
}

// reachable returns whether the goal can be reached from the start
// without passing through an obstacle
func (g *GridWorld) reachable() bool {
	visited := map[Position]bool{g.start: true}
	queue := []Position{g.start}
	for len(queue) > 0 {
		p := queue[0]
		queue = queue[1:]
		if p == g.goal {
			return true
		}

		for _, next := range []Position{
			{p.Row - 1, p.Col}, {p.Row + 1, p.Col},
			{p.Row, p.Col - 1}, {p.Row, p.Col + 1},
		} {
			if inBounds(next, g.size) && !visited[next] && !g.obstacles[next] {
				visited[next] = true
				queue = append(queue, next)
			}
		}
	}
	return false
}

func (g *GridWorld) observation() *mat.VecDense {
	return mat.NewVecDense(2, []float64{
		float64(g.position.Row),
		float64(g.position.Col),
	})
}

func inBounds(p Position, size int) bool {
	return p.Row >= 0 && p.Row < size && p.Col >= 0 && p.Col < size
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
