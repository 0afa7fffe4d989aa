/*
Copyright © 2018 the insitu authors.
This file is part of insitu.

insitu is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

insitu is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with insitu.  If not, see <http://www.gnu.org/licenses/>.
*/

package insitu

import (
	"io/ioutil"
	"reflect"
	"testing"

	"github.com/sirupsen/logrus"
)

func silentLogger() logrus.FieldLogger {
	l := logrus.New()
	l.Out = ioutil.Discard
	return l
}

func TestRegistryRegister(t *testing.T) {
	reg := NewRegistry()
	reg.Log = silentLogger()
	const key = "mag_rtn_4sa.br"

	first := &Series{Key: key}
	if err := reg.Register(key, first); err != nil {
		t.Fatal(err)
	}

	// Same type: replacement is allowed (and logged).
	second := &Series{Key: key}
	if err := reg.Register(key, second); err != nil {
		t.Fatalf("re-registering the same type: %v", err)
	}
	if v, ok := reg.Lookup(key); !ok || v.(*Series) != second {
		t.Error("re-registration should replace the instance")
	}

	// Different type: conflict, instance unchanged.
	err := reg.Register(key, "not a series")
	if err == nil {
		t.Fatal("registering an incompatible type should be an error")
	}
	ktc, ok := err.(*KeyTypeConflictError)
	if !ok {
		t.Fatalf("error type: want *KeyTypeConflictError but have %T", err)
	}
	if ktc.Key != key {
		t.Errorf("conflict key: want %s but have %s", key, ktc.Key)
	}
	if ktc.Existing != reflect.TypeOf(&Series{}) || ktc.Incoming != reflect.TypeOf("") {
		t.Errorf("conflict types: have %s vs %s", ktc.Existing, ktc.Incoming)
	}
	if v, _ := reg.Lookup(key); v.(*Series) != second {
		t.Error("a failed registration must not change the registry")
	}
}

func TestRegistryLookupMiss(t *testing.T) {
	reg := NewRegistry()
	v, ok := reg.Lookup("absent")
	if ok || v != nil {
		t.Errorf("missing key: want (nil, false) but have (%v, %v)", v, ok)
	}
}

func TestRegistryReset(t *testing.T) {
	reg := NewRegistry()
	reg.Log = silentLogger()
	if err := reg.Register("a", 1); err != nil {
		t.Fatal(err)
	}
	if err := reg.Register("b", 2); err != nil {
		t.Fatal(err)
	}
	if want := []string{"a", "b"}; !reflect.DeepEqual(reg.Keys(), want) {
		t.Errorf("keys: want %v but have %v", want, reg.Keys())
	}
	reg.Reset()
	if len(reg.Keys()) != 0 {
		t.Error("reset registry should be empty")
	}
	// A type conflict from before the reset is forgotten.
	if err := reg.Register("a", "now a string"); err != nil {
		t.Errorf("registering after reset: %v", err)
	}
}
