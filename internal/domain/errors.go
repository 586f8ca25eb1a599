package domain

import "errors"

var (
	ErrInvalidArgs     = errors.New("invalid arguments")
	ErrInvalidChoice   = errors.New("invalid vote choice")
	ErrBattleNotFound  = errors.New("battle not found")
	ErrVotingNotActive = errors.New("voting is not active")
	ErrDeadlinePassed  = errors.New("voting deadline has passed")
	ErrNotParticipant  = errors.New("not a participant in this battle")
	ErrSelfMatch       = errors.New("creator and opponent must differ")
	ErrBattleCompleted = errors.New("battle is already completed")
)
