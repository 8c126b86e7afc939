package graph

// node is one processing stage. process runs on the audio thread with the
// owning handle's lock held; out is the device output for the current buffer.
type node interface {
	process(block []float32, out [][]float32)
	disconnect()
}

type outputs struct {
	next []node
}

func (o *outputs) connect(n node) {
	o.next = append(o.next, n)
}

func (o *outputs) disconnect() {
	o.next = nil
}

func (o *outputs) forward(block []float32, out [][]float32) {
	for _, n := range o.next {
		n.process(block, out)
	}
}

// source turns the captured channels into the mono block the graph runs on.
type source struct {
	outputs
	mono []float32
}

func (s *source) push(in, out [][]float32) {
	s.mono = downmix(in, s.mono)
	s.forward(s.mono, out)
}

// sink mixes the monitor signal onto every output channel.
type sink struct{}

func (sink) process(block []float32, out [][]float32) {
	for _, ch := range out {
		n := min(len(ch), len(block))
		for i := 0; i < n; i++ {
			ch[i] += block[i]
		}
	}
}

func (sink) disconnect() {}

// downmix averages the channels frame by frame into dst, reusing its storage.
func downmix(in [][]float32, dst []float32) []float32 {
	if len(in) == 0 {
		return dst[:0]
	}

	frames := len(in[0])
	if cap(dst) < frames {
		dst = make([]float32, frames)
	}
	dst = dst[:frames]

	if len(in) == 1 {
		copy(dst, in[0])
		return dst
	}

	channels := float32(len(in))
	for i := range dst {
		var sum float32
		for _, ch := range in {
			sum += ch[i]
		}
		dst[i] = sum / channels
	}
	return dst
}
