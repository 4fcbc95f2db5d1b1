package ble

// BatchCapacity is the maximum number of records in one published batch,
// per spec.md §3/§8.
const BatchCapacity = 16

// Drain splits records into one or more batches of at most BatchCapacity
// entries each, covering every entry exactly once, per spec.md §4.4 step 2
// ("if more valid entries exist than fit in a batch, the engine emits
// multiple batches in the same tick until all are drained").
func Drain(records []Record) [][]Record {
	if len(records) == 0 {
		return nil
	}
	batches := make([][]Record, 0, (len(records)+BatchCapacity-1)/BatchCapacity)
	for start := 0; start < len(records); start += BatchCapacity {
		end := start + BatchCapacity
		if end > len(records) {
			end = len(records)
		}
		batches = append(batches, records[start:end])
	}
	return batches
}
