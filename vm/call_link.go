package vm

import "sync/atomic"

// CallLinkInfo is the link state of one call or construct site. A
// linked site calls its callee directly; the callee remembers the site
// so it can be unlinked when the callee's code goes away.
type CallLinkInfo struct {
	BytecodeOffset int
	IsConstruct    bool

	owner  *CodeBlock
	callee atomic.Pointer[CodeBlock]
}

func newCallLinkInfo(owner *CodeBlock, offset int, construct bool) *CallLinkInfo {
	return &CallLinkInfo{BytecodeOffset: offset, IsConstruct: construct, owner: owner}
}

// Owner returns the block containing the call site.
func (c *CallLinkInfo) Owner() *CodeBlock { return c.owner }

// Callee returns the linked callee, or nil.
func (c *CallLinkInfo) Callee() *CodeBlock { return c.callee.Load() }

// IsLinked reports whether the site is linked.
func (c *CallLinkInfo) IsLinked() bool { return c.callee.Load() != nil }

// Link points the site at callee, replacing any previous link. It
// reports false and leaves the site unlinked if callee is jettisoned.
func (c *CallLinkInfo) Link(callee *CodeBlock) bool {
	if !callee.addIncoming(c) {
		c.Unlink()
		return false
	}
	if old := c.callee.Swap(callee); old != nil && old != callee {
		old.removeIncoming(c)
	}
	// A Jettison that began after addIncoming may have taken its
	// snapshot before the Swap.
	if callee.IsJettisoned() {
		c.callee.CompareAndSwap(callee, nil)
		callee.removeIncoming(c)
		return false
	}
	return true
}

// Unlink severs the site from its callee.
func (c *CallLinkInfo) Unlink() {
	if old := c.callee.Swap(nil); old != nil {
		old.removeIncoming(c)
	}
}

// VisitWeak unlinks the site if the callee's function object died, and
// reports whether it did.
func (c *CallLinkInfo) VisitWeak(l Liveness) bool {
	callee := c.callee.Load()
	if callee == nil || l.IsLive(callee.executable.Cell) {
		return false
	}
	c.Unlink()
	return true
}

func (cb *CodeBlock) addIncoming(c *CallLinkInfo) bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == Jettisoned {
		return false
	}
	cb.incoming[c] = struct{}{}
	return true
}

func (cb *CodeBlock) removeIncoming(c *CallLinkInfo) {
	cb.mu.Lock()
	delete(cb.incoming, c)
	cb.mu.Unlock()
}

// NumIncomingCalls returns the number of sites linked to cb.
func (cb *CodeBlock) NumIncomingCalls() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return len(cb.incoming)
}

// UnlinkIncomingCalls severs every call site linked to cb. It must run
// before jettisoned code is reused or freed.
func (cb *CodeBlock) UnlinkIncomingCalls() {
	cb.mu.Lock()
	sites := make([]*CallLinkInfo, 0, len(cb.incoming))
	for c := range cb.incoming {
		sites = append(sites, c)
	}
	cb.incoming = make(map[*CallLinkInfo]struct{})
	cb.mu.Unlock()

	for _, c := range sites {
		c.callee.CompareAndSwap(cb, nil)
	}
}
