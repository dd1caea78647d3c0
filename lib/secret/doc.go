// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package secret provides locked memory for sensitive data: private
// key PEM blocks and exported SRTP keying material.
//
// [Buffer] allocates memory outside the Go heap via
// mmap(MAP_ANONYMOUS), locks it into physical RAM via mlock
// (preventing swap), and marks it excluded from core dumps via
// madvise(MADV_DONTDUMP). On Close, the memory is zeroed, unlocked,
// and unmapped. Because the memory lives outside the Go heap, the
// garbage collector cannot copy or relocate it, so a closed buffer
// leaves no stray copies behind.
//
// [New] allocates a zero-filled buffer; [NewFromBytes] copies into
// protected memory and zeros the source; [ReadFile] loads a secret
// from disk. [Zero] wipes an ordinary heap slice for call sites that
// cannot use a Buffer, such as fixed-layout key structs handed to the
// media layer.
//
// Depends on golang.org/x/sys/unix. No peersec-internal dependencies.
// Imported by keying for exported key material and by identity for
// private key loading.
package secret
