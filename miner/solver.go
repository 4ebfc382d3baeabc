package miner

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"os/exec"
	"runtime"
	"sync"
	"sync/atomic"

	"golang.org/x/crypto/sha3"

	"github.com/tonyke-bot/ore-miner/ore"
)

// Solver proves work for a set of (challenge, authority) pairs. Results are
// positionally matched to the input. The call blocks until every pair is
// solved; the only bound on its latency is the difficulty itself.
type Solver interface {
	Solve(ctx context.Context, difficulty ore.Hash, work []Work) ([]SolveResult, error)
}

// ProcessSolver runs an external solver binary (CPU or GPU backed) speaking
// the byte-stream protocol: input is one thread-count byte, the 32-byte
// difficulty, then repeating 64-byte (challenge, authority) pairs; output is
// repeating 40-byte (hash, nonce-LE) records.
type ProcessSolver struct {
	Path    string
	Threads int
}

const solveRecordSize = 40

func (s *ProcessSolver) Solve(ctx context.Context, difficulty ore.Hash, work []Work) ([]SolveResult, error) {
	var input bytes.Buffer
	input.WriteByte(byte(s.Threads))
	input.Write(difficulty[:])
	for _, w := range work {
		input.Write(w.Challenge[:])
		input.Write(w.Authority[:])
	}

	cmd := exec.CommandContext(ctx, s.Path)
	cmd.Stdin = &input
	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("solver %s: %w", s.Path, err)
	}

	if len(output) != len(work)*solveRecordSize {
		return nil, fmt.Errorf("solver %s: got %d output bytes, want %d", s.Path, len(output), len(work)*solveRecordSize)
	}

	results := make([]SolveResult, 0, len(work))
	for off := 0; off < len(output); off += solveRecordSize {
		var r SolveResult
		copy(r.Hash[:], output[off:off+32])
		r.Nonce = binary.LittleEndian.Uint64(output[off+32 : off+40])
		results = append(results, r)
	}
	return results, nil
}

// CPUSolver is an in-process reference solver. It searches
// keccak256(challenge || authority || nonce) <= difficulty with the nonce
// space split across threads.
type CPUSolver struct {
	Threads int
}

func (s *CPUSolver) Solve(ctx context.Context, difficulty ore.Hash, work []Work) ([]SolveResult, error) {
	threads := s.Threads
	if threads <= 0 {
		threads = runtime.NumCPU()
	}

	results := make([]SolveResult, len(work))
	for i, w := range work {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		results[i] = solveOne(difficulty, w, threads)
	}
	return results, nil
}

func solveOne(difficulty ore.Hash, w Work, threads int) SolveResult {
	var (
		found  atomic.Bool
		result SolveResult
		mu     sync.Mutex
		wg     sync.WaitGroup
	)

	stride := ^uint64(0) / uint64(threads)
	for t := 0; t < threads; t++ {
		wg.Add(1)
		go func(start uint64) {
			defer wg.Done()
			hasher := sha3.NewLegacyKeccak256()
			var nonceBytes [8]byte
			digest := make([]byte, 0, 32)

			for nonce := start; ; nonce++ {
				if nonce%10000 == 0 && found.Load() {
					return
				}
				binary.LittleEndian.PutUint64(nonceBytes[:], nonce)
				hasher.Reset()
				hasher.Write(w.Challenge[:])
				hasher.Write(w.Authority[:])
				hasher.Write(nonceBytes[:])
				digest = hasher.Sum(digest[:0])

				if bytes.Compare(digest, difficulty[:]) <= 0 {
					if found.Swap(true) {
						return
					}
					mu.Lock()
					copy(result.Hash[:], digest)
					result.Nonce = nonce
					mu.Unlock()
					return
				}
			}
		}(stride * uint64(t))
	}
	wg.Wait()
	return result
}
