package domain

import "context"

// SlotPool limita quantas requisições ficam em voo ao mesmo tempo.
//
// Acquire espera uma vaga até ctx encerrar. Em caso de sucesso devolve o
// release, que deve ser chamado uma única vez.
type SlotPool interface {
	Acquire(ctx context.Context) (release func(), ok bool)
	// InUse é a ocupação atual (gauge de saturação).
	InUse() int
}
