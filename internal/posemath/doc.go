// Package posemath holds the rotation and rigid-transform primitives used by
// the pose pipeline: row-major 4x4 transforms, unit quaternions, conversions
// between the two and spherical interpolation.
//
// All matrices are row-major with translation in indices 3, 7 and 11.
package posemath
