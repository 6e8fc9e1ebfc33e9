package store

// Cheap scrypt parameters keep the identity tests fast.
func init() {
	scryptParams = func() (N, r, p int) { return 1 << 10, 8, 1 }
}
