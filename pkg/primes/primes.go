// Package primes classifies integers by trial division.
package primes

// IsPrime reports whether n is prime: n >= 2 and no i in [2, floor(sqrt(n))]
// divides it evenly.
func IsPrime(n int64) bool {
	if n < 2 {
		return false
	}
	// i <= n/i avoids overflowing i*i near the top of the int64 range.
	for i := int64(2); i <= n/i; i++ {
		if n%i == 0 {
			return false
		}
	}
	return true
}

// Find returns the primes of batch in their original relative order. It
// returns nil when there are none.
func Find(batch []int64) []int64 {
	var found []int64
	for _, n := range batch {
		if IsPrime(n) {
			found = append(found, n)
		}
	}
	return found
}
