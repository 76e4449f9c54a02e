package tcp

// WrappingLT reports whether a is "earlier" than b in 32-bit sequence space,
// i.e. (a-b) mod 2^32 > 2^31. It is the single primitive both segment
// acceptability and ACK acceptability are built from.
func WrappingLT(a, b uint32) bool {
	return a-b > 1<<31
}

// BetweenWrapped reports whether x lies in the open interval (s, e) of
// 32-bit sequence space. BetweenWrapped(s, s, s) is always false.
func BetweenWrapped(s, x, e uint32) bool {
	return WrappingLT(s, x) && WrappingLT(x, e)
}
