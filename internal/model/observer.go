package model

import "strconv"

// ObserverID identifies a registered observer.
type ObserverID uint64

func (id ObserverID) String() string {
	return "observer-" + strconv.FormatUint(uint64(id), 10)
}
