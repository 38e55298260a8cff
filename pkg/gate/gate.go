// Package gate управляет тем, какой участник вызова слышит какой аудио поток.
//
// Каждый участник (customer, bot, specialist) имеет свой send-path Gate:
// набор булевых флагов, по одному на каждого получателя. Закрытый флаг
// означает, что кадры этому получателю отбрасываются (не буферизуются).
// Receive-path участника X - это флаги остальных участников в сторону X.
//
// Флаги атомарные: координатор переключает их, аудио потоки читают
// без блокировок, поэтому ни один аудио кадр не ждёт логику перевода.
package gate

import (
	"fmt"
	"sync/atomic"
)

// Role идентифицирует участника вызова.
type Role uint8

const (
	Customer Role = iota
	Bot
	Specialist

	// NumRoles количество ролей; набор ролей фиксирован.
	NumRoles = 3
)

var roleNames = [NumRoles]string{
	Customer:   "customer",
	Bot:        "bot",
	Specialist: "specialist",
}

// String возвращает имя роли
func (r Role) String() string {
	if int(r) < NumRoles {
		return roleNames[r]
	}
	return fmt.Sprintf("role(%d)", uint8(r))
}

// Valid проверяет, что роль входит в фиксированный набор
func (r Role) Valid() bool {
	return int(r) < NumRoles
}

// Roles возвращает все роли в порядке объявления
func Roles() []Role {
	return []Role{Customer, Bot, Specialist}
}

// DropFunc вызывается при отбрасывании кадра закрытым флагом.
// Вызывается из аудио потока, поэтому должна быть дешёвой.
type DropFunc func(source, sink Role)

// Gate булевый переключатель send-path одного участника.
type Gate struct {
	source Role
	open   [NumRoles]atomic.Bool
	onDrop DropFunc
}

// NewGate создаёт Gate для источника source, все получатели закрыты
func NewGate(source Role) *Gate {
	return &Gate{source: source}
}

// Source возвращает роль-источник
func (g *Gate) Source() Role {
	return g.source
}

// Open открывает поток к sink. Повторный вызов ничего не меняет.
// Поток участника самому себе не открывается.
func (g *Gate) Open(sink Role) {
	if !sink.Valid() || sink == g.source {
		return
	}
	g.open[sink].Store(true)
}

// Close закрывает поток к sink. Идемпотентен.
func (g *Gate) Close(sink Role) {
	if !sink.Valid() {
		return
	}
	g.open[sink].Store(false)
}

// IsOpen сообщает, открыт ли поток к sink
func (g *Gate) IsOpen(sink Role) bool {
	if !sink.Valid() {
		return false
	}
	return g.open[sink].Load()
}

// Route направляет поток только к sink.
//
// Остальные получатели закрываются до открытия sink, поэтому в любой
// момент времени наблюдатель видит не более одного открытого получателя.
func (g *Gate) Route(sink Role) {
	for _, r := range Roles() {
		if r != sink {
			g.open[r].Store(false)
		}
	}
	g.Open(sink)
}

// CloseAll закрывает поток ко всем получателям
func (g *Gate) CloseAll() {
	for i := range g.open {
		g.open[i].Store(false)
	}
}

// Pass используется аудио потоком: true если кадр к sink нужно передать.
// Закрытый флаг отбрасывает кадр и сообщает об этом DropFunc.
func (g *Gate) Pass(sink Role) bool {
	if g.IsOpen(sink) {
		return true
	}
	if g.onDrop != nil && sink.Valid() && sink != g.source {
		g.onDrop(g.source, sink)
	}
	return false
}

// OpenSinks возвращает снимок открытых получателей
func (g *Gate) OpenSinks() []Role {
	var sinks []Role
	for _, r := range Roles() {
		if g.IsOpen(r) {
			sinks = append(sinks, r)
		}
	}
	return sinks
}
