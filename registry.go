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
	"fmt"
	"reflect"
	"sort"

	"github.com/sirupsen/logrus"
)

// A Registry holds the live instance for each product key. It is
// injected into the components that need to look instances up rather
// than accessed through package state, so separate stores can coexist
// (and tests can isolate themselves). A Registry is not safe for
// concurrent use.
type Registry struct {
	// Log receives a warning when a key is re-registered. The default
	// is the logrus standard logger.
	Log logrus.FieldLogger

	instances map[string]interface{}
}

// KeyTypeConflictError is returned when a key is re-registered with a
// value of a different dynamic type than the one already registered.
type KeyTypeConflictError struct {
	Key                string
	Existing, Incoming reflect.Type
}

func (e *KeyTypeConflictError) Error() string {
	return fmt.Sprintf("insitu: registering %s: incompatible type %s, already registered as %s",
		e.Key, e.Incoming, e.Existing)
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		Log:       logrus.StandardLogger(),
		instances: make(map[string]interface{}),
	}
}

// Register stores v under key. Re-registering a key with a value of the
// same dynamic type replaces the previous value and logs a warning;
// replacement is the normal outcome of a refresh cycle. Re-registering
// with a different dynamic type returns a KeyTypeConflictError and
// leaves the previous value in place.
func (reg *Registry) Register(key string, v interface{}) error {
	if existing, ok := reg.instances[key]; ok {
		et, it := reflect.TypeOf(existing), reflect.TypeOf(v)
		if et != it {
			return &KeyTypeConflictError{Key: key, Existing: et, Incoming: it}
		}
		reg.Log.WithFields(logrus.Fields{
			"key":  key,
			"type": fmt.Sprint(it),
		}).Warn("insitu registry replacing instance")
	}
	reg.instances[key] = v
	return nil
}

// Lookup returns the instance registered under key. A missing key is
// not an error: the second return value is false.
func (reg *Registry) Lookup(key string) (interface{}, bool) {
	v, ok := reg.instances[key]
	return v, ok
}

// Keys returns the sorted registered keys.
func (reg *Registry) Keys() []string {
	keys := make([]string, 0, len(reg.instances))
	for k := range reg.instances {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Reset removes every registered instance.
func (reg *Registry) Reset() {
	reg.instances = make(map[string]interface{})
}
