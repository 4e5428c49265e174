/*
Package runtime adapts containerd into a source of container lifecycle events.

ContainerdSource lists running containers for the bootstrap pass and
subscribes to the /tasks/start and /tasks/exit topics. Each container is
described by its name and address:

  - the name comes from the nerdctl/name label, then the OCI spec hostname,
    then the container id
  - the address comes from the dnsrest.address label

Both label keys are configurable. Exits of exec processes do not end a
container and are ignored.
*/
package runtime
