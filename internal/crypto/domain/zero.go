package domain

// Zero wipes secret material in place. Callers use it on every copy of a
// master or ephemeral secret, sealing key and derived key once done with it.
func Zero(b []byte) {
	clear(b)
}
