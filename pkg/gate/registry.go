package gate

// Matrix снимок состояния всех флагов: Matrix[source][sink].
type Matrix [NumRoles][NumRoles]bool

// Option настраивает Registry
type Option func(*Registry)

// WithDropObserver устанавливает наблюдателя отброшенных кадров для всех Gate
func WithDropObserver(fn DropFunc) Option {
	return func(r *Registry) {
		r.onDrop = fn
	}
}

// Registry фиксированный реестр Gate по ролям вызова.
//
// Реестр создаётся один раз на вызов; роли не добавляются во время работы,
// поэтому вместо map используется массив.
type Registry struct {
	parties [NumRoles]*Gate
	onDrop  DropFunc
}

// NewRegistry создаёт реестр в исходном состоянии (см. Reset)
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{}
	for _, opt := range opts {
		opt(r)
	}
	for _, role := range Roles() {
		g := NewGate(role)
		g.onDrop = r.onDrop
		r.parties[role] = g
	}
	r.Reset()
	return r
}

// Party возвращает send-path Gate участника
func (r *Registry) Party(role Role) *Gate {
	if !role.Valid() {
		return nil
	}
	return r.parties[role]
}

// Reset приводит флаги к исходному состоянию вызова без перевода:
// customer <-> bot открыты, specialist изолирован.
func (r *Registry) Reset() {
	for _, g := range r.parties {
		g.CloseAll()
	}
	r.Link(Customer, Bot)
}

// Link открывает поток в обе стороны между a и b
func (r *Registry) Link(a, b Role) {
	if !a.Valid() || !b.Valid() {
		return
	}
	r.parties[a].Open(b)
	r.parties[b].Open(a)
}

// Unlink закрывает поток в обе стороны между a и b
func (r *Registry) Unlink(a, b Role) {
	if !a.Valid() || !b.Valid() {
		return
	}
	r.parties[a].Close(b)
	r.parties[b].Close(a)
}

// Isolate закрывает send-path участника и все потоки к нему
func (r *Registry) Isolate(role Role) {
	if !role.Valid() {
		return
	}
	r.parties[role].CloseAll()
	for _, g := range r.parties {
		g.Close(role)
	}
}

// Snapshot возвращает текущее состояние флагов
func (r *Registry) Snapshot() Matrix {
	var m Matrix
	for _, src := range Roles() {
		for _, sink := range Roles() {
			m[src][sink] = r.parties[src].IsOpen(sink)
		}
	}
	return m
}

// Baseline возвращает состояние флагов после Reset
func Baseline() Matrix {
	var m Matrix
	m[Customer][Bot] = true
	m[Bot][Customer] = true
	return m
}
