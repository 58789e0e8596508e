package appointment

var transitionMap = map[Status][]Status{
	StatusProposed:   {StatusConfirmed, StatusCancelled},
	StatusConfirmed:  {StatusInProgress, StatusCancelled, StatusNoShow},
	StatusInProgress: {StatusCompleted, StatusCancelled},
}

func ValidTransition(from, to Status) bool {
	for _, status := range transitionMap[from] {
		if status == to {
			return true
		}
	}
	return false
}

// Terminal states accept no further transitions.
func (s Status) Terminal() bool {
	_, ok := transitionMap[s]
	return !ok
}
