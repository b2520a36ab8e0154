package astiavsplitter

import (
	"context"
	"sync"

	"github.com/asticode/go-astiav"
	"github.com/asticode/go-astikit"
)

// Where libav logs are written, indexed by the libav object emitting them
var classers = newClasserPool()

type classerTarget struct {
	ctx context.Context
	l   astikit.CompleteLogger
}

type classerPool struct {
	m sync.Mutex
	p map[astiav.Classer]classerTarget
}

func newClasserPool() *classerPool {
	return &classerPool{p: make(map[astiav.Classer]classerTarget)}
}

func (p *classerPool) set(c astiav.Classer, ctx context.Context, l astikit.CompleteLogger) {
	p.m.Lock()
	defer p.m.Unlock()
	p.p[c] = classerTarget{
		ctx: ctx,
		l:   l,
	}
}

func (p *classerPool) del(c astiav.Classer) {
	p.m.Lock()
	defer p.m.Unlock()
	delete(p.p, c)
}

func (p *classerPool) get(c astiav.Classer) (classerTarget, bool) {
	p.m.Lock()
	defer p.m.Unlock()
	t, ok := p.p[c]
	return t, ok
}
