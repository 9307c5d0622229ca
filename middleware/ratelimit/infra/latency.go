package infra

import (
	"math"
	"strconv"
	"time"
)

// latencyBuckets são os limites superiores do histograma de latência.
// O último bucket implícito (+Inf) recebe o resto.
var latencyBuckets = [...]time.Duration{
	1 * time.Millisecond,
	2 * time.Millisecond,
	5 * time.Millisecond,
	10 * time.Millisecond,
	25 * time.Millisecond,
	50 * time.Millisecond,
	100 * time.Millisecond,
	250 * time.Millisecond,
	500 * time.Millisecond,
	1 * time.Second,
	2500 * time.Millisecond,
	5 * time.Second,
	10 * time.Second,
}

const numLatencyBuckets = len(latencyBuckets) + 1

func bucketIndex(d time.Duration) int {
	for i, ub := range latencyBuckets {
		if d <= ub {
			return i
		}
	}
	return len(latencyBuckets)
}

// bucketField é o nome do campo no hash do Redis ("le:5", "le:+Inf").
func bucketField(i int) string {
	if i >= len(latencyBuckets) {
		return "le:+Inf"
	}
	return "le:" + strconv.FormatInt(latencyBuckets[i].Milliseconds(), 10)
}

// percentile estima o p-quantil pelo limite superior do bucket.
// Para o bucket +Inf usa max (se conhecido).
func percentile(counts []int64, total int64, p float64, peak time.Duration) time.Duration {
	if total <= 0 {
		return 0
	}
	rank := int64(math.Ceil(p * float64(total)))
	if rank < 1 {
		rank = 1
	}
	var cum int64
	for i, c := range counts {
		cum += c
		if cum >= rank {
			if i < len(latencyBuckets) {
				ub := latencyBuckets[i]
				if peak > 0 && peak < ub {
					return peak
				}
				return ub
			}
			return peak
		}
	}
	return peak
}
