package videoenc

import "fmt"

// BufferItem is one in-flight encode slot of spec.md §3 ("Encoder buffer
// item"): a registered GPU-resource handle, a (transiently) mapped input
// pointer, an output bitstream buffer, a completion event, and an
// end-of-stream flag. Owned by the encoder; shared by index between the
// input and output threads via the conveyor.
type BufferItem struct {
	Index       int
	Resource    uintptr // registered input-array subresource
	MappedInput uintptr // populated only while a frame is in flight
	Output      uintptr // bitstream buffer handle
	Event       uintptr // completion event handle
	EndOfStream bool
}

// buildBufferItems allocates n BufferItems, registering one input-array
// subresource, one output bitstream buffer and one completion event per
// item. On any failure, every previously successful registration is rolled
// back before returning — the RAII-guard-during-construction pattern
// spec.md §4.3.1/§9 specifies ("errors at any step must roll back all
// previously successful registrations"), expressed here as a plain defer
// stack rather than per-object guards since Go has no destructor to race.
func buildBufferItems(enc HardwareEncoder, n int) ([]BufferItem, error) {
	items := make([]BufferItem, 0, n)

	rollback := func() {
		for i := len(items) - 1; i >= 0; i-- {
			cleanup(enc, &items[i])
		}
	}

	for i := 0; i < n; i++ {
		item := BufferItem{Index: i}

		resource, err := enc.RegisterResource(i)
		if err != nil {
			rollback()
			return nil, fmt.Errorf("videoenc: register resource %d: %w", i, err)
		}
		item.Resource = resource

		output, err := enc.CreateBitstreamBuffer()
		if err != nil {
			enc.UnregisterResource(item.Resource)
			rollback()
			return nil, fmt.Errorf("videoenc: create bitstream buffer %d: %w", i, err)
		}
		item.Output = output

		event, err := enc.CreateCompletionEvent()
		if err != nil {
			enc.DestroyBitstreamBuffer(item.Output)
			enc.UnregisterResource(item.Resource)
			rollback()
			return nil, fmt.Errorf("videoenc: create completion event %d: %w", i, err)
		}
		item.Event = event

		items = append(items, item)
	}
	return items, nil
}

// cleanup releases one BufferItem's resources. The encoder is passed
// explicitly rather than stored as a back-pointer on the item, per spec.md
// §9 ("Back-references"): the array of items is owned by the encoder, and
// cleanup runs on encoder Close.
func cleanup(enc HardwareEncoder, item *BufferItem) {
	if item.Event != 0 {
		enc.DestroyCompletionEvent(item.Event)
		item.Event = 0
	}
	if item.Output != 0 {
		enc.DestroyBitstreamBuffer(item.Output)
		item.Output = 0
	}
	if item.Resource != 0 {
		enc.UnregisterResource(item.Resource)
		item.Resource = 0
	}
}
