// Package patient stores the patients and stimulation thresholds the
// prescription flow reads. Records are read by id only.
package patient
