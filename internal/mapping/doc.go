// Package mapping turns queued events into changes of local domain state.
//
// A Registry maps a module's mapping class to a Mapper. It is built once at
// startup and handed to the execution driver; nothing is registered
// globally. Mapping classes marked dynamic, and modules with the dynamic
// model flag, fall through to the generic EntityMapper.
package mapping
