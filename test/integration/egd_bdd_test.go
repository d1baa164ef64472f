//go:build integration

package integration

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/eliteGoblin/egd/internal/control"
	"github.com/eliteGoblin/egd/internal/domain"
	"github.com/eliteGoblin/egd/internal/pool"
	"github.com/eliteGoblin/egd/internal/scheduler"
)

var _ = Describe("Entropy pool persistence", func() {
	var (
		tmpDir      string
		persistPath string
	)

	BeforeEach(func() {
		var err error
		tmpDir, err = os.MkdirTemp("", "egd-integration-*")
		Expect(err).NotTo(HaveOccurred())
		persistPath = filepath.Join(tmpDir, "pool.bin")
	})

	AfterEach(func() {
		os.RemoveAll(tmpDir)
	})

	Context("when a pool with three chunks is persisted and reloaded", func() {
		It("reports identical statistics from a fresh instance", func() {
			p := pool.New(10_000, 4096)
			p.Deposit(make([]byte, 8))
			p.Deposit(make([]byte, 4096))
			p.Deposit(make([]byte, 4096))

			Expect(p.Persist(persistPath)).To(Succeed())

			reloaded := pool.New(10_000, 4096)
			Expect(reloaded.Load(persistPath)).To(Succeed())

			// last_persist is a Persist-time timestamp, not part of the
			// persisted image itself, so it is excluded from this
			// comparison deliberately.
			original := p.Stats()
			after := reloaded.Stats()
			Expect(after.TotalBytes).To(Equal(original.TotalBytes))
			Expect(after.MaxTotalBytes).To(Equal(original.MaxTotalBytes))
			Expect(after.ChunkCount).To(Equal(original.ChunkCount))
			Expect(after.IsFull).To(Equal(original.IsFull))
		})
	})
})

var _ = Describe("Control channel end to end", func() {
	var (
		srv    *control.Server
		cancel context.CancelFunc
	)

	AfterEach(func() {
		if cancel != nil {
			cancel()
		}
	})

	It("answers a status request over the loopback control port", func() {
		p := pool.New(1_000_000, 4096)
		p.Deposit(make([]byte, 128))

		tmpDir, err := os.MkdirTemp("", "egd-integration-*")
		Expect(err).NotTo(HaveOccurred())
		defer os.RemoveAll(tmpDir)

		sched := scheduler.New(
			domain.GlobalConfig{PersistFile: filepath.Join(tmpDir, "pool.bin"), PersistInterval: time.Hour},
			nil, nil, p, zap.NewNop(),
		)

		srv = control.New(sched, zap.NewNop())
		Expect(srv.Listen(0)).To(Succeed())

		var ctx context.Context
		ctx, cancel = context.WithCancel(context.Background())
		go srv.Serve(ctx)

		conn, err := net.Dial("tcp", srv.Addr().String())
		Expect(err).NotTo(HaveOccurred())
		defer conn.Close()

		_, err = conn.Write([]byte(`{"command":"status"}` + "\n"))
		Expect(err).NotTo(HaveOccurred())

		line, err := bufio.NewReader(conn).ReadString('\n')
		Expect(err).NotTo(HaveOccurred())

		var resp domain.ControlResponse
		Expect(json.Unmarshal([]byte(line), &resp)).To(Succeed())
		Expect(resp.StatusCode).To(Equal(200))

		var data control.StatusResponse
		Expect(json.Unmarshal(resp.Data, &data)).To(Succeed())
		Expect(data.EntropyBytes).To(Equal(int64(128)))
		Expect(data.ChunkCount).To(BeNumerically(">=", 1))
	})
})
