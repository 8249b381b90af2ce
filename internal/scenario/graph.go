package scenario

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/clinicops/platform/internal/schedule"
	apperrors "github.com/clinicops/platform/internal/shared/errors"
)

// NodeWait is an editor-only node carrying a delay. It never persists: its
// delay moves onto the step it leads to.
const NodeWait = "wait"

// Edge ports.
const (
	PortBottom = "bottom"
	PortTrue   = "true"
	PortFalse  = "false"
	PortTop    = "top"
)

const (
	nodeIDPrefix = "step-"
	columnX      = 320
	rowHeight    = 140
	nodeWidth    = 240
	nodeHeight   = 96
)

// Graph is the editor form of a scenario.
type Graph struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// Node is one step in the editor graph.
type Node struct {
	ID       string   `json:"id"`
	Type     string   `json:"type"`
	Label    string   `json:"label"`
	Position Position `json:"position"`
	Size     Size     `json:"size"`
	Data     NodeData `json:"data"`
}

type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type Size struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// NodeData mirrors the step payload. ExitJumpTo names a node, not a position.
type NodeData struct {
	DelayType          string     `json:"delayType"`
	DelayValue         int        `json:"delayValue"`
	SendTime           string     `json:"sendTime,omitempty"`
	Content            string     `json:"content,omitempty"`
	TemplateID         string     `json:"templateId,omitempty"`
	TagID              *int64     `json:"tagId,omitempty"`
	Mark               string     `json:"mark,omitempty"`
	ConditionRules     []Rule     `json:"conditionRules,omitempty"`
	ExitConditionRules []Rule     `json:"exitConditionRules,omitempty"`
	ExitAction         ExitAction `json:"exitAction,omitempty"`
	ExitJumpTo         string     `json:"exitJumpTo,omitempty"`
}

// Edge joins two nodes. FromPort is bottom, true or false.
type Edge struct {
	ID       string `json:"id"`
	From     string `json:"from"`
	To       string `json:"to"`
	FromPort string `json:"fromPort"`
	ToPort   string `json:"toPort"`
	Label    string `json:"label,omitempty"`
	Color    string `json:"color,omitempty"`
}

var stepLabels = map[StepType]string{
	StepSendText:     "テキスト送信",
	StepSendTemplate: "テンプレート送信",
	StepTagAdd:       "タグ追加",
	StepTagRemove:    "タグ削除",
	StepMarkChange:   "対応マーク変更",
	StepCondition:    "条件分岐",
}

func nodeID(i int) string {
	return nodeIDPrefix + strconv.Itoa(i)
}

// SortSteps returns a copy of steps ordered by SortOrder.
func SortSteps(steps []Step) []Step {
	out := make([]Step, len(steps))
	copy(out, steps)
	sort.SliceStable(out, func(i, j int) bool { return out[i].SortOrder < out[j].SortOrder })
	return out
}

// StepsToGraph projects a step list onto editor nodes and edges. Each step
// becomes node step-<i>. A non-condition step gets a bottom edge to the next
// step, a condition step gets true and false edges to its branch targets.
// References outside the list mean exit and produce no edge.
func StepsToGraph(steps []Step) Graph {
	ordered := SortSteps(steps)
	n := len(ordered)
	g := Graph{Nodes: make([]Node, 0, n), Edges: []Edge{}}

	for i, s := range ordered {
		data := NodeData{
			DelayType:          s.DelayType,
			DelayValue:         s.DelayValue,
			SendTime:           s.SendTime,
			Content:            s.Content,
			TemplateID:         s.TemplateID,
			TagID:              s.TagID,
			Mark:               s.Mark,
			ConditionRules:     s.ConditionRules,
			ExitConditionRules: s.ExitConditionRules,
			ExitAction:         s.ExitAction,
		}
		if t, ok := inRange(s.ExitJumpTo, n); ok {
			data.ExitJumpTo = nodeID(t)
		}

		g.Nodes = append(g.Nodes, Node{
			ID:       nodeID(i),
			Type:     string(s.StepType),
			Label:    stepLabels[s.StepType],
			Position: Position{X: columnX, Y: float64(i * rowHeight)},
			Size:     Size{Width: nodeWidth, Height: nodeHeight},
			Data:     data,
		})

		if s.StepType == StepCondition {
			if t, ok := inRange(s.BranchTrueStep, n); ok {
				g.Edges = append(g.Edges, newEdge(nodeID(i), nodeID(t), PortTrue))
			}
			if t, ok := inRange(s.BranchFalseStep, n); ok {
				g.Edges = append(g.Edges, newEdge(nodeID(i), nodeID(t), PortFalse))
			}
			continue
		}
		if i+1 < n {
			g.Edges = append(g.Edges, newEdge(nodeID(i), nodeID(i+1), PortBottom))
		}
	}
	return g
}

func newEdge(from, to, port string) Edge {
	e := Edge{
		ID:       fmt.Sprintf("edge-%s-%s", from, port),
		From:     from,
		To:       to,
		FromPort: port,
		ToPort:   PortTop,
	}
	switch port {
	case PortTrue:
		e.Label, e.Color = "はい", "#16a34a"
	case PortFalse:
		e.Label, e.Color = "いいえ", "#dc2626"
	}
	return e
}

func inRange(ref *int, n int) (int, bool) {
	if ref == nil || *ref < 0 || *ref >= n {
		return 0, false
	}
	return *ref, true
}

// successors holds a node's outgoing edges by port, resolved past waits.
type successors struct {
	bottom, onTrue, onFalse string
}

type graphCompiler struct {
	g        Graph
	index    map[string]int
	out      map[string]*successors
	delays   map[string]NodeData
	problems map[string]string
}

// GraphToSteps compiles an editor graph back into a step list. Bottom-edge
// chains stay contiguous; the chain holding the entry node comes first and
// the rest keep insertion order. Branch targets become positions in the
// emitted list. Wait nodes are collapsed onto the step they lead to.
func GraphToSteps(g Graph) ([]Step, error) {
	if len(g.Nodes) == 0 && len(g.Edges) == 0 {
		return []Step{}, nil
	}

	c := &graphCompiler{
		g:        g,
		index:    make(map[string]int, len(g.Nodes)),
		out:      make(map[string]*successors, len(g.Nodes)),
		delays:   make(map[string]NodeData),
		problems: make(map[string]string),
	}
	c.indexNodes()
	c.collectEdges()
	if err := c.err(); err != nil {
		return nil, err
	}

	c.resolveWaits()
	if err := c.err(); err != nil {
		return nil, err
	}

	order := c.order()
	if err := c.err(); err != nil {
		return nil, err
	}

	steps := c.emit(order)
	if err := c.err(); err != nil {
		return nil, err
	}
	return steps, nil
}

func (c *graphCompiler) err() error {
	if len(c.problems) == 0 {
		return nil
	}
	return apperrors.Validation("invalid scenario graph", c.problems)
}

func (c *graphCompiler) node(id string) Node {
	return c.g.Nodes[c.index[id]]
}

func (c *graphCompiler) isWait(id string) bool {
	return c.node(id).Type == NodeWait
}

func (c *graphCompiler) indexNodes() {
	for i, n := range c.g.Nodes {
		key := "node:" + n.ID
		if n.ID == "" {
			c.problems["node:#"+strconv.Itoa(i)] = "node id is required"
			continue
		}
		if _, dup := c.index[n.ID]; dup {
			c.problems[key] = "duplicate node id"
			continue
		}
		if n.Type != NodeWait && !stepTypes[StepType(n.Type)] {
			c.problems[key] = fmt.Sprintf("unknown node type %q", n.Type)
		}
		c.index[n.ID] = i
		c.out[n.ID] = &successors{}
	}
}

func (c *graphCompiler) collectEdges() {
	for i, e := range c.g.Edges {
		key := "edge:" + e.ID
		if e.ID == "" {
			key = "edge:#" + strconv.Itoa(i)
		}
		_, fromOK := c.index[e.From]
		_, toOK := c.index[e.To]
		if !fromOK || !toOK {
			c.problems[key] = fmt.Sprintf("unknown endpoint %s -> %s", e.From, e.To)
			continue
		}

		from := c.node(e.From)
		isCondition := from.Type == string(StepCondition)
		succ := c.out[e.From]

		var slot *string
		switch e.FromPort {
		case PortBottom, "":
			if isCondition {
				c.problems[key] = "a condition step branches through its true and false ports"
				continue
			}
			slot = &succ.bottom
		case PortTrue, PortFalse:
			if !isCondition {
				c.problems[key] = fmt.Sprintf("port %q is only valid on a condition step", e.FromPort)
				continue
			}
			slot = &succ.onTrue
			if e.FromPort == PortFalse {
				slot = &succ.onFalse
			}
		default:
			c.problems[key] = fmt.Sprintf("unknown port %q", e.FromPort)
			continue
		}

		if *slot != "" {
			c.problems[key] = fmt.Sprintf("node %s already has a %s edge", e.From, portName(e.FromPort))
			continue
		}
		*slot = e.To
	}
}

func portName(p string) string {
	if p == "" {
		return PortBottom
	}
	return p
}

// resolveWaits rewrites every successor that is a wait node to the step the
// wait leads to, and records the wait's delay against that step.
func (c *graphCompiler) resolveWaits() {
	targeted := make(map[string]bool)
	for _, e := range c.g.Edges {
		targeted[e.To] = true
	}

	for _, n := range c.g.Nodes {
		if n.Type == NodeWait {
			if !targeted[n.ID] {
				c.resolve(n.ID)
			}
			continue
		}
		succ := c.out[n.ID]
		succ.bottom = c.resolve(succ.bottom)
		succ.onTrue = c.resolve(succ.onTrue)
		succ.onFalse = c.resolve(succ.onFalse)
	}
}

// resolve follows a chain of wait nodes from id and returns the first step
// node, or "" when the chain ends without one.
func (c *graphCompiler) resolve(id string) string {
	var delay *NodeData
	seen := make(map[string]bool)

	for id != "" && c.isWait(id) {
		if seen[id] {
			c.problems["node:"+id] = "wait nodes form a cycle"
			return ""
		}
		seen[id] = true

		d := c.node(id).Data
		if d.DelayValue > 0 || d.SendTime != "" {
			if delay != nil {
				c.problems["node:"+id] = "consecutive wait nodes both carry a delay"
				return ""
			}
			delay = &d
		}
		id = c.out[id].bottom
	}

	if id == "" || delay == nil {
		return id
	}

	own := c.node(id).Data
	if own.DelayValue > 0 || own.SendTime != "" {
		c.problems["node:"+id] = "step is preceded by a wait but has its own delay"
		return id
	}
	if prev, ok := c.delays[id]; ok && !sameDelay(prev, *delay) {
		c.problems["node:"+id] = "step is reached through waits with different delays"
		return id
	}
	c.delays[id] = *delay
	return id
}

func sameDelay(a, b NodeData) bool {
	return a.DelayType == b.DelayType && a.DelayValue == b.DelayValue && a.SendTime == b.SendTime
}

// order lays out the step nodes as bottom-edge chains.
func (c *graphCompiler) order() []string {
	prev := make(map[string]string)
	incoming := make(map[string]bool)

	for _, n := range c.g.Nodes {
		if n.Type == NodeWait {
			continue
		}
		succ := c.out[n.ID]
		if succ.bottom != "" {
			if other, ok := prev[succ.bottom]; ok {
				c.problems["node:"+succ.bottom] = fmt.Sprintf("both %s and %s fall through to this step", other, n.ID)
				continue
			}
			prev[succ.bottom] = n.ID
		}
		for _, t := range []string{succ.bottom, succ.onTrue, succ.onFalse} {
			if t != "" {
				incoming[t] = true
			}
		}
	}
	if len(c.problems) > 0 {
		return nil
	}

	var heads []string
	entry := ""
	for _, n := range c.g.Nodes {
		if n.Type == NodeWait {
			continue
		}
		if _, hasPrev := prev[n.ID]; !hasPrev {
			heads = append(heads, n.ID)
			if entry == "" && !incoming[n.ID] {
				entry = n.ID
			}
		}
	}
	if entry != "" {
		for i, h := range heads {
			if h == entry {
				heads = append([]string{entry}, append(heads[:i:i], heads[i+1:]...)...)
				break
			}
		}
	}

	placed := make(map[string]bool)
	var order []string
	for _, h := range heads {
		for id := h; id != ""; id = c.out[id].bottom {
			placed[id] = true
			order = append(order, id)
		}
	}

	for _, n := range c.g.Nodes {
		if n.Type != NodeWait && !placed[n.ID] {
			c.problems["node:"+n.ID] = "bottom edges form a cycle"
		}
	}
	return order
}

// emit turns the ordered nodes into steps. A chain ending in a non-condition
// step is closed with an empty condition step, since a non-condition step
// otherwise falls through to whatever follows it in the list.
func (c *graphCompiler) emit(order []string) []Step {
	type slot struct {
		node       string
		terminator bool
	}

	var slots []slot
	for i, id := range order {
		slots = append(slots, slot{node: id})
		last := i == len(order)-1
		if !last && c.node(id).Type != string(StepCondition) && c.out[id].bottom == "" {
			slots = append(slots, slot{terminator: true})
		}
	}

	pos := make(map[string]int, len(order))
	for i, s := range slots {
		if !s.terminator {
			pos[s.node] = i
		}
	}
	ref := func(id string) *int {
		if id == "" {
			return nil
		}
		p := pos[id]
		return &p
	}

	steps := make([]Step, 0, len(slots))
	for i, s := range slots {
		if s.terminator {
			steps = append(steps, Step{
				SortOrder:      i,
				DelayType:      schedule.DelayDays,
				StepType:       StepCondition,
				ConditionRules: []Rule{},
			})
			continue
		}

		n := c.node(s.node)
		d := n.Data
		if w, ok := c.delays[n.ID]; ok {
			d.DelayType, d.DelayValue, d.SendTime = w.DelayType, w.DelayValue, w.SendTime
		}
		if d.DelayType == "" {
			d.DelayType = schedule.DelayDays
		}

		step := Step{
			SortOrder:          i,
			DelayType:          d.DelayType,
			DelayValue:         d.DelayValue,
			SendTime:           strings.TrimSpace(d.SendTime),
			StepType:           StepType(n.Type),
			Content:            d.Content,
			TemplateID:         d.TemplateID,
			TagID:              d.TagID,
			Mark:               d.Mark,
			ConditionRules:     d.ConditionRules,
			ExitConditionRules: d.ExitConditionRules,
			ExitAction:         d.ExitAction,
		}
		if step.StepType == StepCondition {
			step.BranchTrueStep = ref(c.out[n.ID].onTrue)
			step.BranchFalseStep = ref(c.out[n.ID].onFalse)
		}
		if d.ExitJumpTo != "" {
			if _, ok := c.index[d.ExitJumpTo]; !ok {
				c.problems["node:"+n.ID] = fmt.Sprintf("exit jump to unknown node %s", d.ExitJumpTo)
			} else if target := c.resolve(d.ExitJumpTo); target != "" {
				step.ExitJumpTo = ref(target)
			}
		}
		steps = append(steps, step)
	}
	return steps
}
