package insecuretls

import (
	"bytes"
	"crypto/tls"
	"sync"
	"testing"
)

func TestServerConfig(t *testing.T) {
	conf, err := ServerConfig()
	if err != nil {
		t.Fatalf("ServerConfig: %v", err)
	}
	if len(conf.Certificates) != 1 {
		t.Fatalf("want one certificate, got %d", len(conf.Certificates))
	}
	if conf.ClientAuth != tls.NoClientCert {
		t.Fatalf("client auth = %v", conf.ClientAuth)
	}
	if conf.MinVersion != tls.VersionTLS13 {
		t.Fatalf("min version = %x", conf.MinVersion)
	}
}

func TestClientConfig(t *testing.T) {
	conf := ClientConfig()
	if !conf.InsecureSkipVerify {
		t.Fatalf("client config verifies certificates")
	}
	if conf.MinVersion != tls.VersionTLS13 {
		t.Fatalf("min version = %x", conf.MinVersion)
	}
}

func TestCertificateCachedAcrossConcurrentCalls(t *testing.T) {
	const n = 16
	confs := make([]*tls.Config, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c, err := ServerConfig()
			if err != nil {
				t.Errorf("ServerConfig: %v", err)
				return
			}
			confs[i] = c
		}(i)
	}
	wg.Wait()

	first := confs[0].Certificates[0].Certificate[0]
	for i := 1; i < n; i++ {
		if !bytes.Equal(confs[i].Certificates[0].Certificate[0], first) {
			t.Fatalf("call %d produced a different certificate", i)
		}
	}
}

func TestConfigsAreIndependent(t *testing.T) {
	a, err := ServerConfig()
	if err != nil {
		t.Fatalf("ServerConfig: %v", err)
	}
	b, err := ServerConfig()
	if err != nil {
		t.Fatalf("ServerConfig: %v", err)
	}
	a.NextProtos = []string{"x"}
	if len(b.NextProtos) != 0 {
		t.Fatalf("configs share state: %v", b.NextProtos)
	}
}
