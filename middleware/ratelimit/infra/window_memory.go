package infra

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"admission-gateway/middleware/ratelimit/domain"
)

// MemoryWindowStore é um log deslizante em memória, para um único processo.
//
// O lock do mapa só é segurado para achar/criar a entrada; cada chave tem
// seu próprio mutex, então chaves diferentes não se serializam.
type MemoryWindowStore struct {
	mu           sync.Mutex
	entries      map[string]*windowEntry
	cleanupEvery time.Duration
	now          func() time.Time
}

type windowEntry struct {
	mu sync.Mutex
	// stamps[head:] são os timestamps vivos, sempre em ordem crescente.
	// O prefixo morto só é compactado quando passa da metade do slice.
	stamps []time.Time
	head   int
	window time.Duration
	// dead marca entradas removidas pelo janitor; quem pegou o ponteiro antes
	// da remoção precisa buscar de novo.
	dead bool
}

type MemoryWindowOption func(*MemoryWindowStore)

func WithWindowCleanupEvery(d time.Duration) MemoryWindowOption {
	return func(s *MemoryWindowStore) { s.cleanupEvery = d }
}

// WithWindowClock troca o relógio usado pelo Cleanup (testes).
func WithWindowClock(now func() time.Time) MemoryWindowOption {
	return func(s *MemoryWindowStore) { s.now = now }
}

func NewMemoryWindowStore(opts ...MemoryWindowOption) *MemoryWindowStore {
	s := &MemoryWindowStore{
		entries:      make(map[string]*windowEntry),
		cleanupEvery: time.Minute,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryWindowStore) CleanupEvery() time.Duration { return s.cleanupEvery }

// RecordAndCount implementa domain.WindowStore.
func (s *MemoryWindowStore) RecordAndCount(ctx context.Context, key domain.Key, window time.Duration, now time.Time) (domain.WindowCount, error) {
	if err := ctx.Err(); err != nil {
		return domain.WindowCount{}, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}

	name := key.String()
	for {
		ent := s.getOrCreate(name)

		ent.mu.Lock()
		if ent.dead {
			ent.mu.Unlock()
			continue
		}
		ent.window = window
		ent.prune(now)
		ent.insert(now)
		live := ent.live()
		wc := domain.WindowCount{Count: len(live), Oldest: live[0]}
		ent.mu.Unlock()

		return wc, nil
	}
}

// Peek implementa domain.WindowStore sem alterar a janela.
func (s *MemoryWindowStore) Peek(ctx context.Context, key domain.Key, window time.Duration, now time.Time) (domain.WindowCount, error) {
	if err := ctx.Err(); err != nil {
		return domain.WindowCount{}, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}

	s.mu.Lock()
	ent := s.entries[key.String()]
	s.mu.Unlock()
	if ent == nil {
		return domain.WindowCount{}, nil
	}

	ent.mu.Lock()
	defer ent.mu.Unlock()

	live := ent.stamps[ent.firstRetained(now, window):]
	if len(live) == 0 {
		return domain.WindowCount{}, nil
	}
	return domain.WindowCount{Count: len(live), Oldest: live[0]}, nil
}

// Len devolve o número de chaves em memória.
func (s *MemoryWindowStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *MemoryWindowStore) getOrCreate(name string) *windowEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ent, ok := s.entries[name]; ok {
		return ent
	}
	ent := &windowEntry{}
	s.entries[name] = ent
	return ent
}

// Cleanup remove chaves cuja janela inteira já expirou.
//
// A varredura roda sem o lock do mapa; cada candidata é revalidada e removida
// sob locks curtos, então getOrCreate não espera a varredura inteira.
func (s *MemoryWindowStore) Cleanup() {
	now := s.now()

	s.mu.Lock()
	snapshot := make(map[string]*windowEntry, len(s.entries))
	for k, ent := range s.entries {
		snapshot[k] = ent
	}
	s.mu.Unlock()

	for k, ent := range snapshot {
		if !ent.expired(now) {
			continue
		}
		s.mu.Lock()
		if s.entries[k] == ent {
			ent.mu.Lock()
			// pode ter recebido registro entre a varredura e aqui
			if ent.idle(now) {
				ent.dead = true
				delete(s.entries, k)
			}
			ent.mu.Unlock()
		}
		s.mu.Unlock()
	}
}

// StartJanitor inicia uma goroutine que limpa chaves inativas periodicamente.
// Pare cancelando o contexto.
func (s *MemoryWindowStore) StartJanitor(ctx DoneContext) {
	if s.cleanupEvery <= 0 {
		return
	}

	t := time.NewTicker(s.cleanupEvery)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				s.Cleanup()
			}
		}
	}()
}

// DoneContext é o mínimo necessário para aceitar context.Context no janitor.
type DoneContext interface {
	Done() <-chan struct{}
}

func (e *windowEntry) live() []time.Time { return e.stamps[e.head:] }

// firstRetained devolve o índice (absoluto em stamps) do primeiro timestamp
// vivo com now - t < window.
func (e *windowEntry) firstRetained(now time.Time, window time.Duration) int {
	cutoff := now.Add(-window)
	live := e.live()
	return e.head + sort.Search(len(live), func(i int) bool { return live[i].After(cutoff) })
}

func (e *windowEntry) expired(now time.Time) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.idle(now)
}

// idle exige e.mu.
func (e *windowEntry) idle(now time.Time) bool {
	return e.firstRetained(now, e.window) == len(e.stamps)
}

// prune avança head; o custo amortizado por chamada é O(1) mais a busca binária.
func (e *windowEntry) prune(now time.Time) {
	e.head = e.firstRetained(now, e.window)
	if e.head == 0 || e.head*2 < len(e.stamps) {
		return
	}
	n := copy(e.stamps, e.stamps[e.head:])
	clear(e.stamps[n:])
	e.stamps = e.stamps[:n]
	e.head = 0
}

func (e *windowEntry) insert(now time.Time) {
	if n := len(e.stamps); n == e.head || !now.Before(e.stamps[n-1]) {
		e.stamps = append(e.stamps, now)
		return
	}
	// chamadas concorrentes podem chegar fora de ordem de relógio
	live := e.live()
	i := e.head + sort.Search(len(live), func(i int) bool { return live[i].After(now) })
	e.stamps = slices.Insert(e.stamps, i, now)
}
