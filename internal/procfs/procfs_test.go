package procfs

import (
	"os"
	"testing"
)

func TestAlive_Self(t *testing.T) {
	if !Alive(os.Getpid()) {
		t.Error("Alive(self) = false")
	}
}

func TestAlive_InvalidPid(t *testing.T) {
	if Alive(0) {
		t.Error("Alive(0) = true")
	}
	if Alive(-1) {
		t.Error("Alive(-1) = true")
	}
}

func TestAlive_NonexistentPid(t *testing.T) {
	if Alive(999999) {
		t.Error("Alive(999999) = true, want false")
	}
}

func TestIsZombie_Self(t *testing.T) {
	if IsZombie(os.Getpid()) {
		t.Error("IsZombie(self) = true")
	}
}

func TestServiceName(t *testing.T) {
	cases := []struct{ in, want string }{
		{"/artisan.slice/myapp.service", "myapp"},
		{"/myapp.service", "myapp"},
		{"myapp.service", "myapp"},
		{"", ""},
	}
	for _, c := range cases {
		if got := ServiceName(c.in); got != c.want {
			t.Errorf("ServiceName(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}
