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

// Package insitu manages named in-situ time-series data products.
// It caches fetched data segments, merges them into per-product series,
// and tracks which time ranges have already been computed so that
// repeated requests do not repeat work.
//
// The types in this package are not safe for concurrent use: a Store and
// its collaborators are meant to be owned by a single goroutine.
package insitu
