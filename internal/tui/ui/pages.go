package ui

import "github.com/rivo/tview"

// Component is a page the stack can drive. Init runs once on Add, Start when
// the page reaches the top of the stack and Stop when it leaves.
type Component interface {
	Name() string
	Init()
	Start()
	Stop()
	Hints() []MenuHint
}

// MenuHint is one shortcut shown in the header menu. Numeric hints get their
// own color.
type MenuHint struct {
	Key         string
	Description string
	Numeric     bool
}

// Pages is a stack-based page manager wrapping tview.Pages. Pages are
// registered as Components so the stack can drive their lifecycle.
type Pages struct {
	*tview.Pages
	stack      []string
	components map[string]Component
	onChange   func(stack []string)
}

// NewPages creates a new stack-based page manager.
func NewPages() *Pages {
	return &Pages{
		Pages:      tview.NewPages(),
		components: make(map[string]Component),
	}
}

// Add registers a hidden page.
func (p *Pages) Add(name string, item tview.Primitive, c Component) {
	p.AddPage(name, item, true, false)
	if c != nil {
		p.components[name] = c
		c.Init()
	}
}

// SetOnChange sets a callback that fires when the stack changes.
func (p *Pages) SetOnChange(fn func(stack []string)) {
	p.onChange = fn
}

// Push adds a page to the top of the stack and shows it. Pushing the page
// already on top is a no-op.
func (p *Pages) Push(name string) {
	if p.Current() == name {
		return
	}
	if len(p.stack) > 0 {
		top := p.stack[len(p.stack)-1]
		p.HidePage(top)
		p.stop(top)
	}
	p.stack = append(p.stack, name)
	p.show(name)
	p.notify()
}

// Pop removes the top page and shows the previous one. The root page is
// never popped. Returns the name of the popped page, or empty.
func (p *Pages) Pop() string {
	if len(p.stack) <= 1 {
		return ""
	}
	top := p.stack[len(p.stack)-1]
	p.HidePage(top)
	p.stop(top)
	p.stack = p.stack[:len(p.stack)-1]
	p.show(p.stack[len(p.stack)-1])
	p.notify()
	return top
}

// Current returns the name of the current (top) page.
func (p *Pages) Current() string {
	if len(p.stack) == 0 {
		return ""
	}
	return p.stack[len(p.stack)-1]
}

// CurrentComponent returns the component registered for the top page.
func (p *Pages) CurrentComponent() Component {
	return p.components[p.Current()]
}

// Stack returns a copy of the current page stack.
func (p *Pages) Stack() []string {
	s := make([]string, len(p.stack))
	copy(s, p.stack)
	return s
}

// Names returns the component names of the stack, bottom first. Pages
// without a component use their page name.
func (p *Pages) Names() []string {
	names := make([]string, len(p.stack))
	for i, n := range p.stack {
		names[i] = n
		if c, ok := p.components[n]; ok {
			names[i] = c.Name()
		}
	}
	return names
}

// Depth returns the current stack depth.
func (p *Pages) Depth() int {
	return len(p.stack)
}

// Reset clears the stack and shows only the given page.
func (p *Pages) Reset(name string) {
	for _, n := range p.stack {
		p.HidePage(n)
		p.stop(n)
	}
	p.stack = []string{name}
	p.show(name)
	p.notify()
}

func (p *Pages) show(name string) {
	p.ShowPage(name)
	p.SendToFront(name)
	if c, ok := p.components[name]; ok {
		c.Start()
	}
}

func (p *Pages) stop(name string) {
	if c, ok := p.components[name]; ok {
		c.Stop()
	}
}

func (p *Pages) notify() {
	if p.onChange != nil {
		p.onChange(p.Stack())
	}
}
